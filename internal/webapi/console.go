package webapi

import (
	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// consoleJS builds globalThis.console on top of __console(level, message).
// Objects are rendered as JSON where possible.
const consoleJS = `
(function() {
	function render(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack ? String(arg.stack) : String(arg);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return String(arg); }
		}
		return String(arg);
	}
	function emit(level, args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) parts.push(render(args[i]));
		__console(level, parts.join(' '));
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(lvl) {
		con[lvl] = function() { emit(lvl, arguments); };
	});

	var counters = {};
	var started = {};
	con.count = function(label) {
		var l = label === undefined ? 'default' : String(label);
		counters[l] = (counters[l] || 0) + 1;
		emit('log', [l + ': ' + counters[l]]);
	};
	con.countReset = function(label) {
		counters[label === undefined ? 'default' : String(label)] = 0;
	};
	con.time = function(label) {
		started[label === undefined ? 'default' : String(label)] = performance.now();
	};
	con.timeEnd = function(label) {
		var l = label === undefined ? 'default' : String(label);
		if (started[l] === undefined) {
			emit('warn', ['Timer "' + l + '" does not exist']);
			return;
		}
		emit('log', [l + ': ' + (performance.now() - started[l]).toFixed(3) + 'ms']);
		delete started[l];
	};
	con.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		emit('error', ['Assertion failed' + (rest.length ? ':' : '')].concat(rest));
	};
	con.dir = con.table = function(obj) { emit('log', [obj]); };
	globalThis.console = con;
})();
`

// SetupConsole returns a setup function that routes console output to
// logger. log and info map to Info; trace and debug map to Debug.
func SetupConsole(logger *zap.Logger) SetupFunc {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__console", func(level, message string) {
			switch level {
			case "error":
				logger.Error(message, zap.String("level", level))
			case "warn":
				logger.Warn(message, zap.String("level", level))
			case "debug", "trace":
				logger.Debug(message, zap.String("level", level))
			default:
				logger.Info(message, zap.String("level", level))
			}
		}); err != nil {
			return err
		}
		return rt.Eval(consoleJS)
	}
}

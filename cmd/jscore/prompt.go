package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// secretReader reads passphrases. On a terminal input is not echoed;
// otherwise one line is read per prompt, so piped input works too.
type secretReader struct {
	in  io.Reader
	out io.Writer
	br  *bufio.Reader
}

func newSecretReader(in io.Reader, out io.Writer) *secretReader {
	return &secretReader{in: in, out: out}
}

func (s *secretReader) read(prompt string) (string, error) {
	fmt.Fprint(s.out, promptStyle.Render(prompt))
	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(s.out)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}

	if s.br == nil {
		s.br = bufio.NewReader(s.in)
	}
	line, err := s.br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// passphrase returns flagVal when set, otherwise prompts. With confirm the
// passphrase must be entered twice.
func (s *secretReader) passphrase(flagVal string, confirm bool) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	pp, err := s.read("Passphrase: ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return pp, nil
	}
	again, err := s.read("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if pp != again {
		return "", errors.New("passphrases do not match")
	}
	return pp, nil
}

package chooser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/smnsjas/go-authsession/session"
)

// TermForm collects credentials on a terminal. Input that is not a
// terminal (a pipe) is read line by line.
type TermForm struct {
	in  io.Reader
	out io.Writer
	fd  int

	// AskDomain adds a domain prompt.
	AskDomain bool
}

// NewTermForm creates a form on stdin and stderr.
func NewTermForm() *TermForm {
	return &TermForm{in: os.Stdin, out: os.Stderr, fd: int(os.Stdin.Fd())}
}

// PresentUI fills form. It is suitable for session.Options.PresentUI.
func (f *TermForm) PresentUI(ctx context.Context, form *session.LoginForm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := bufio.NewReader(f.in)

	if form.Provider != "" {
		fmt.Fprintf(f.out, "Sign in to %s\n", form.Provider)
	}
	username, err := f.prompt(r, "Username", form.Username)
	if err != nil {
		return err
	}
	form.Username = username
	if form.Username == "" {
		return session.ErrCancelled
	}

	if f.AskDomain {
		domain, err := f.prompt(r, "Domain", form.Domain)
		if err != nil {
			return err
		}
		form.Domain = domain
	}

	password, err := f.password(r)
	if err != nil {
		return err
	}
	form.Password = password
	return ctx.Err()
}

func (f *TermForm) prompt(r *bufio.Reader, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(f.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(f.out, "%s: ", label)
	}
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", session.ErrCancelled
		}
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (f *TermForm) password(r *bufio.Reader) (string, error) {
	fmt.Fprint(f.out, "Password: ")
	if f.in == os.Stdin && term.IsTerminal(f.fd) {
		b, err := term.ReadPassword(f.fd)
		fmt.Fprintln(f.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

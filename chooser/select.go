package chooser

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/smnsjas/go-authsession/session"
)

const defaultTitle = "Choose an account"

// Select asks the user to pick an account from a list. The zero value is
// ready to use.
type Select struct {
	Title      string
	Accessible bool

	// run executes the form. Nil runs it on the terminal.
	run func(ctx context.Context, form *huh.Form) error
}

// NewSelect creates a chooser with the default title.
func NewSelect() *Select {
	return &Select{Title: defaultTitle}
}

func (s *Select) runner() func(ctx context.Context, form *huh.Form) error {
	if s.run != nil {
		return s.run
	}
	return func(ctx context.Context, form *huh.Form) error {
		return form.RunWithContext(ctx)
	}
}

// Choose implements session.Chooser. An aborted prompt returns
// session.ErrCancelled.
func (s *Select) Choose(ctx context.Context, candidates []*session.Account, label func(*session.Account) string) (*session.Account, error) {
	if len(candidates) == 0 {
		return nil, session.ErrNoAccounts
	}

	title := s.Title
	if title == "" {
		title = defaultTitle
	}

	var selected string
	field := huh.NewSelect[string]().
		Title(title).
		Options(options(candidates, label)...).
		Value(&selected)

	form := huh.NewForm(huh.NewGroup(field)).WithAccessible(s.Accessible)
	if err := s.runner()(ctx, form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, session.ErrCancelled
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("account prompt failed: %w", err)
	}
	return resolve(candidates, selected)
}

// options keys each candidate by its index; labels may repeat.
func options(candidates []*session.Account, label func(*session.Account) string) []huh.Option[string] {
	if label == nil {
		label = session.AccountLabel
	}
	out := make([]huh.Option[string], len(candidates))
	for i, c := range candidates {
		out[i] = huh.NewOption(label(c), strconv.Itoa(i))
	}
	return out
}

func resolve(candidates []*session.Account, selected string) (*session.Account, error) {
	i, err := strconv.Atoi(selected)
	if err != nil || i < 0 || i >= len(candidates) {
		return nil, fmt.Errorf("invalid account selection %q", selected)
	}
	return candidates[i], nil
}

package session

import "context"

// Progress is a login stage reported through Options.Progress.
type Progress int

const (
	// ProgressAuthorizing is the generic "working on it" stage.
	ProgressAuthorizing Progress = iota
	// ProgressPresentingAccountChoice is reported while the Chooser is open.
	ProgressPresentingAccountChoice
	// ProgressPresentingAuthUI is reported while embedded login UI is shown.
	ProgressPresentingAuthUI
	// ProgressPresentingBrowser is reported while the user is in a browser.
	ProgressPresentingBrowser
)

// String returns the string representation of the stage.
func (p Progress) String() string {
	switch p {
	case ProgressAuthorizing:
		return "Authorizing"
	case ProgressPresentingAccountChoice:
		return "PresentingAccountChoice"
	case ProgressPresentingAuthUI:
		return "PresentingAuthUI"
	case ProgressPresentingBrowser:
		return "PresentingBrowser"
	default:
		return "Unknown"
	}
}

// Chooser resolves "which of several accounts" ambiguity.
//
// The candidates may contain a nil entry, the "skip to next provider"
// option, which label renders as "Other". Choose returns the picked
// candidate (possibly nil) or ErrCancelled if the user dismissed the choice.
type Chooser interface {
	Choose(ctx context.Context, candidates []*Account, label func(*Account) string) (*Account, error)
}

// ChooserFunc adapts a function to the Chooser interface.
type ChooserFunc func(ctx context.Context, candidates []*Account, label func(*Account) string) (*Account, error)

// Choose calls f.
func (f ChooserFunc) Choose(ctx context.Context, candidates []*Account, label func(*Account) string) (*Account, error) {
	return f(ctx, candidates, label)
}

// Options configures a single login or authenticated call.
// Options is a value type; copies are independent.
type Options struct {
	// AllowLoginUI enables interactive strategies.
	AllowLoginUI bool

	// Chooser is required when a strategy yields several accounts.
	Chooser Chooser

	// Progress receives de-duplicated login stages. Optional.
	Progress func(Progress)

	// PresentUI shows embedded login UI. When nil, interactive strategies
	// fall back to browser login.
	PresentUI func(ctx context.Context, form *LoginForm) error
}

var (
	// NoUI never shows login UI.
	NoUI = Options{AllowLoginUI: false}

	// WithUI allows login UI but has no chooser.
	WithUI = Options{AllowLoginUI: true}
)

// WithUIAndChoice returns Options allowing UI with the given collaborators.
// Any argument may be nil.
func WithUIAndChoice(chooser Chooser, progress func(Progress), presentUI func(ctx context.Context, form *LoginForm) error) Options {
	return Options{
		AllowLoginUI: true,
		Chooser:      chooser,
		Progress:     progress,
		PresentUI:    presentUI,
	}
}

// progressReporter de-duplicates consecutive stages for one login.
type progressReporter struct {
	report func(Progress)
	last   Progress
	sent   bool
}

func newProgressReporter(report func(Progress)) *progressReporter {
	return &progressReporter{report: report}
}

func (r *progressReporter) Report(p Progress) {
	if r.report == nil {
		return
	}
	if r.sent && r.last == p {
		return
	}
	r.last = p
	r.sent = true
	r.report(p)
}

// NetworkMonitor reports connectivity. It is polled before every login
// strategy and every wrapped call.
type NetworkMonitor interface {
	Available() bool
}

// AlwaysOnline is a NetworkMonitor that never reports offline.
type AlwaysOnline struct{}

// Available always returns true.
func (AlwaysOnline) Available() bool { return true }

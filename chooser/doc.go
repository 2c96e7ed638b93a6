// Package chooser implements terminal interaction for login: an account
// chooser built on charmbracelet/huh and a credential form that reads
// passwords without echo.
//
//	opts := session.WithUIAndChoice(chooser.NewSelect(), nil, chooser.NewTermForm().PresentUI)
package chooser

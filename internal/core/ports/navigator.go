package ports

// Navigator is the interactive surface the Failure Monitor redirects.
// A nil Navigator marks a background call that must receive the error instead.
type Navigator interface {
	CurrentPath() string
	Redirect(target string)
}

package domain

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Admin  bool
}

package models

// User is an employee who owns expenses and, with the manager capability,
// approves or rejects them.
type User struct {
	ID         int64   `json:"id"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	Department *string `json:"department,omitempty"`
	IsManager  bool    `json:"isManager"`
}

// DisplayName returns "First Last".
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

package models

import "strings"

// User is a read-only projection of the externally owned account record.
type User struct {
	ID          string `bson:"_id" json:"id"`
	FirstName   string `bson:"first_name" json:"firstName"`
	LastName    string `bson:"last_name" json:"lastName"`
	AccountName string `bson:"account_name,omitempty" json:"accountName,omitempty"`
	Email       string `bson:"email" json:"email"`
	Active      bool   `bson:"active" json:"active"`
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.AccountName
	}
	return name
}

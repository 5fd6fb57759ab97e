package models

import "time"

// User is a document owner as known from identity provider claims. Sub is
// the value stored in Document.OwnerID.
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Sub       string    `bson:"sub" json:"sub"`
	Email     string    `bson:"email" json:"email"`
	Name      string    `bson:"name" json:"name"`
	Picture   string    `bson:"picture,omitempty" json:"picture,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// UserFromClaims maps standard OIDC claims onto a User. It returns nil when
// the claims carry no subject.
func UserFromClaims(claims map[string]interface{}) *User {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil
	}
	u := &User{Sub: sub}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	if u.Name == "" {
		u.Name, _ = claims["preferred_username"].(string)
	}
	u.Picture, _ = claims["picture"].(string)
	return u
}

// DisplayName is what the sidebar shows for the workspace owner.
func (u *User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	}
	return u.Sub
}

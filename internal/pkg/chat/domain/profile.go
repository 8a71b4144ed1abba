package chat

// Profile is the displayable identity of a user. Profiles are owned by
// the identity provider and immutable from this system's perspective.
type Profile struct {
	ID        string  `db:"id"`
	Username  string  `db:"username"`
	AvatarURL *string `db:"avatar_url"`
}

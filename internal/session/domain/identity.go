package domain

// Role identifies what a connected principal may do within a session.
type Role string

const (
	// RoleDM is the campaign's dungeon master.
	RoleDM Role = "dm"
	// RolePlayer is a regular participant.
	RolePlayer Role = "player"
)

// IsValid reports whether the role is a known value.
func (r Role) IsValid() bool {
	return r == RoleDM || r == RolePlayer
}

// Identity is an authenticated principal attached to a connection.
//
// It is created on successful attach and does not outlive the underlying
// transport connection.
type Identity struct {
	PrincipalID string
	DisplayName string
	Role        Role
	// CampaignID scopes DM authority to sessions of their own campaign.
	CampaignID string
	// Characters lists the character ids a player may mutate. Ignored for DMs.
	Characters []string
}

// IsDM reports whether the identity holds the DM role.
func (i Identity) IsDM() bool {
	return i.Role == RoleDM
}

// ControlsCharacter reports whether the identity may mutate the character.
// DMs control every character; players only those in their permitted set.
func (i Identity) ControlsCharacter(characterID string) bool {
	if i.IsDM() {
		return true
	}
	for _, id := range i.Characters {
		if id == characterID {
			return true
		}
	}
	return false
}

package identity

import "fmt"

// Capability is a named boolean permission flag.
type Capability string

const (
	GeneralAccess          Capability = "generalAccess"
	CanManageEvents        Capability = "canManageEvents"
	CanManageAnnouncements Capability = "canManageAnnouncements"
	CanManageTeams         Capability = "canManageTeams"
	CanManageRegistrations Capability = "canManageRegistrations"
	CanExportData          Capability = "canExportData"
)

// Capabilities lists every known capability in a stable order.
var Capabilities = []Capability{
	GeneralAccess,
	CanManageEvents,
	CanManageAnnouncements,
	CanManageTeams,
	CanManageRegistrations,
	CanExportData,
}

// Permissions is the capability set stored on both identity variants.
type Permissions struct {
	GeneralAccess          bool `bson:"general_access" json:"generalAccess"`
	CanManageEvents        bool `bson:"can_manage_events" json:"canManageEvents"`
	CanManageAnnouncements bool `bson:"can_manage_announcements" json:"canManageAnnouncements"`
	CanManageTeams         bool `bson:"can_manage_teams" json:"canManageTeams"`
	CanManageRegistrations bool `bson:"can_manage_registrations" json:"canManageRegistrations"`
	CanExportData          bool `bson:"can_export_data" json:"canExportData"`
}

// DefaultOperatorPermissions grants general access and nothing else.
func DefaultOperatorPermissions() Permissions {
	return Permissions{GeneralAccess: true}
}

// DefaultMemberPermissions grants nothing, not even general access.
func DefaultMemberPermissions() Permissions {
	return Permissions{}
}

func (p *Permissions) flags() map[Capability]*bool {
	return map[Capability]*bool{
		GeneralAccess:          &p.GeneralAccess,
		CanManageEvents:        &p.CanManageEvents,
		CanManageAnnouncements: &p.CanManageAnnouncements,
		CanManageTeams:         &p.CanManageTeams,
		CanManageRegistrations: &p.CanManageRegistrations,
		CanExportData:          &p.CanExportData,
	}
}

// Map returns the capability flags keyed by capability name.
func (p Permissions) Map() map[string]bool {
	out := make(map[string]bool, len(Capabilities))
	for c, v := range p.flags() {
		out[string(c)] = *v
	}
	return out
}

// Apply sets every flag named in changes. Unknown capability names are
// rejected and leave p untouched.
func (p *Permissions) Apply(changes map[string]bool) error {
	next := *p
	flags := next.flags()
	for name, value := range changes {
		ptr, ok := flags[Capability(name)]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
		}
		*ptr = value
	}
	*p = next
	return nil
}

// IsKnownCapability reports whether name is one of Capabilities.
func IsKnownCapability(name string) bool {
	for _, c := range Capabilities {
		if string(c) == name {
			return true
		}
	}
	return false
}

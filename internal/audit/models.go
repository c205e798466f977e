package audit

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UnknownActor is recorded when the acting identity cannot be resolved.
const UnknownActor = "unknown operator"

type Category string

const (
	CategoryAuth         Category = "AUTH"
	CategoryEvent        Category = "EVENT"
	CategoryAnnouncement Category = "ANNOUNCEMENT"
	CategoryTeam         Category = "TEAM"
	CategoryMembership   Category = "MEMBERSHIP"
	CategorySystem       Category = "SYSTEM"
)

// Entry is an append-only audit record.
type Entry struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ActorID       string             `bson:"actor_id" json:"actorId"`
	ActorEmail    string             `bson:"actor_email" json:"actorEmail"`
	Action        string             `bson:"action" json:"action"`
	Category      Category           `bson:"category" json:"category"`
	Details       map[string]any     `bson:"details,omitempty" json:"details,omitempty"`
	SourceAddress string             `bson:"source_address" json:"sourceAddress"`
	ClientAgent   string             `bson:"client_agent" json:"clientAgent"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
}

type rule struct {
	keywords []string
	category Category
}

// First matching rule wins.
var rules = []rule{
	{[]string{"LOGIN", "LOGOUT", "PASSWORD", "ACTIVAT", "AUTH"}, CategoryAuth},
	{[]string{"EVENT"}, CategoryEvent},
	{[]string{"ANNOUNCEMENT"}, CategoryAnnouncement},
	{[]string{"TEAM"}, CategoryTeam},
	{[]string{"MEMBER", "REGISTRATION"}, CategoryMembership},
}

// Classify derives the category from keywords in the action name.
func Classify(action string) Category {
	a := strings.ToUpper(action)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(a, kw) {
				return r.category
			}
		}
	}
	return CategorySystem
}

// IsCategory reports whether s names a known category.
func IsCategory(s string) bool {
	switch Category(s) {
	case CategoryAuth, CategoryEvent, CategoryAnnouncement, CategoryTeam, CategoryMembership, CategorySystem:
		return true
	}
	return false
}

package models

// UserProfile is edited from the settings screen and read by the sequencer
// when an emergency starts.
type UserProfile struct {
	Name              string `json:"name" yaml:"name" validate:"required,max=100"`
	MedicalConditions string `json:"medicalConditions" yaml:"medicalConditions" validate:"max=1000"`
	Address           string `json:"address" yaml:"address" validate:"max=300"`
	IsResponder       bool   `json:"isResponder" yaml:"isResponder"`
	ResponderSkills   string `json:"responderSkills" yaml:"responderSkills" validate:"max=500"`
}

func DefaultProfile() UserProfile {
	return UserProfile{
		Name:              "Senior Citizen",
		MedicalConditions: "None listed",
		Address:           "Unknown",
	}
}

type Contact struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name" validate:"required,max=100"`
	Phone    string `json:"phone" yaml:"phone" validate:"omitempty,phone"`
	Email    string `json:"email" yaml:"email" validate:"omitempty,email"`
	Relation string `json:"relation" yaml:"relation" validate:"omitempty,relation"`
}

// ContactRelations are the relations offered by the settings screen.
var ContactRelations = []string{"Family", "Friend", "Neighbor", "Caregiver", "Doctor", "Other"}

type ContactRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	Relation string `json:"relation" validate:"omitempty,relation"`
}

func (r ContactRequest) ToContact(id string) Contact {
	return Contact{
		ID:       id,
		Name:     r.Name,
		Phone:    r.Phone,
		Email:    r.Email,
		Relation: r.Relation,
	}
}

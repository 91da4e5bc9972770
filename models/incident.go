package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	IncidentEndCancelled  = "cancelled"
	IncidentEndSuperseded = "superseded"
)

// IncidentRecord is the archived form of a finished emergency session.
type IncidentRecord struct {
	ID                   primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID            string             `json:"sessionId" bson:"sessionId"`
	Situation            string             `json:"situation" bson:"situation"`
	Script               string             `json:"script,omitempty" bson:"script,omitempty"`
	Coordinates          *Coordinates       `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	UsedFallbackLocation bool               `json:"usedFallbackLocation" bson:"usedFallbackLocation"`
	FinalStatus          ActionState        `json:"finalStatus" bson:"finalStatus"`
	Logs                 []LogEntry         `json:"logs" bson:"logs"`
	RecordedChunks       int                `json:"recordedChunks" bson:"recordedChunks"`
	RecordedBytes        int64              `json:"recordedBytes" bson:"recordedBytes"`
	EndReason            string             `json:"endReason" bson:"endReason"`
	StartedAt            time.Time          `json:"startedAt" bson:"startedAt"`
	EndedAt              time.Time          `json:"endedAt" bson:"endedAt"`
	CreatedAt            time.Time          `json:"createdAt" bson:"createdAt"`
}

func (r IncidentRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

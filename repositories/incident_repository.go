package repositories

import (
	"context"
	"guardian/models"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultIncidentHistory is how many incidents the in-memory store keeps.
const DefaultIncidentHistory = 50

type IncidentStore interface {
	Create(ctx context.Context, record *models.IncidentRecord) error
	List(ctx context.Context, limit int) ([]models.IncidentRecord, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.IncidentRecord, error)
}

// =================== MONGO ===================

type MongoIncidentRepository struct {
	collection *mongo.Collection
}

func NewMongoIncidentRepository(db *mongo.Database) *MongoIncidentRepository {
	return &MongoIncidentRepository{
		collection: db.Collection("incidents"),
	}
}

func (ir *MongoIncidentRepository) Create(ctx context.Context, record *models.IncidentRecord) error {
	record.ID = primitive.NewObjectID()
	record.CreatedAt = time.Now()

	_, err := ir.collection.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		// sessionId is unique; a retried insert already landed.
		return nil
	}
	return err
}

func (ir *MongoIncidentRepository) List(ctx context.Context, limit int) ([]models.IncidentRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "endedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := ir.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.IncidentRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (ir *MongoIncidentRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.IncidentRecord, error) {
	var record models.IncidentRecord
	err := ir.collection.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (ir *MongoIncidentRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := ir.collection.DeleteMany(ctx, bson.M{"endedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// =================== MEMORY ===================

// MemoryIncidentRepository keeps the most recent incidents in a ring.
type MemoryIncidentRepository struct {
	mu       sync.RWMutex
	capacity int
	records  []models.IncidentRecord
	next     int
	full     bool
}

func NewMemoryIncidentRepository(capacity int) *MemoryIncidentRepository {
	if capacity <= 0 {
		capacity = DefaultIncidentHistory
	}
	return &MemoryIncidentRepository{
		capacity: capacity,
		records:  make([]models.IncidentRecord, capacity),
	}
}

func (ir *MemoryIncidentRepository) Create(ctx context.Context, record *models.IncidentRecord) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	record.ID = primitive.NewObjectID()
	record.CreatedAt = time.Now()

	ir.records[ir.next] = *record
	ir.next = (ir.next + 1) % ir.capacity
	if ir.next == 0 {
		ir.full = true
	}
	return nil
}

// List returns incidents newest first.
func (ir *MemoryIncidentRepository) List(ctx context.Context, limit int) ([]models.IncidentRecord, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	count := ir.next
	if ir.full {
		count = ir.capacity
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	records := make([]models.IncidentRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (ir.next - 1 - i + ir.capacity) % ir.capacity
		records = append(records, ir.records[idx])
	}
	return records, nil
}

func (ir *MemoryIncidentRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.IncidentRecord, error) {
	records, _ := ir.List(ctx, 0)
	for i := range records {
		if records[i].SessionID == sessionID {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

// DeleteOlderThan drops incidents that ended before cutoff, keeping the rest
// in order.
func (ir *MemoryIncidentRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	count, start := ir.next, 0
	if ir.full {
		count, start = ir.capacity, ir.next
	}

	kept := make([]models.IncidentRecord, 0, count)
	for i := 0; i < count; i++ {
		record := ir.records[(start+i)%ir.capacity]
		if record.EndedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, record)
	}

	ir.records = make([]models.IncidentRecord, ir.capacity)
	copy(ir.records, kept)
	ir.next = len(kept) % ir.capacity
	ir.full = len(kept) == ir.capacity
	return int64(count - len(kept)), nil
}

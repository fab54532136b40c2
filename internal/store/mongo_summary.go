package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Defaults for the MongoDB summary repository.
const (
	DefaultMongoDatabase       = "evalubot"
	DefaultSummaryCollection   = "chat_summaries"
	defaultMongoConnectTimeout = 5 * time.Second
)

// summaryDocument is the MongoDB shape of a subject summary.
type summaryDocument struct {
	SubjectKey  string            `bson:"_id"`
	SubjectName string            `bson:"subject_name"`
	Summaries   map[string]string `bson:"summaries"`
	Quotes      map[string]string `bson:"quotes"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

// MongoSummaryRepo implements SummaryRepo on a MongoDB collection.
type MongoSummaryRepo struct {
	summaries *mongo.Collection
}

// NewMongoSummaryRepo creates a summary repository on db.
func NewMongoSummaryRepo(db *mongo.Database) *MongoSummaryRepo {
	return &MongoSummaryRepo{summaries: db.Collection(DefaultSummaryCollection)}
}

// ConnectMongo connects to uri and pings the server.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultMongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	slog.Info("Connected to MongoDB")
	return client, nil
}

func (r *MongoSummaryRepo) SaveSummary(ctx context.Context, sum models.SubjectSummary) error {
	if err := models.ValidateSubjectName(sum.SubjectName); err != nil {
		return err
	}
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	doc := summaryDocument{
		SubjectKey:  subjectKey(sum.SubjectName),
		SubjectName: sum.SubjectName,
		Summaries:   make(map[string]string, len(models.SummaryCategories)),
		Quotes:      make(map[string]string, len(models.SummaryCategories)),
		UpdatedAt:   sum.UpdatedAt.UTC(),
	}
	for _, c := range models.SummaryCategories {
		doc.Summaries[string(c)] = sum.Summaries[c]
		doc.Quotes[string(c)] = sum.Quotes[c]
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.summaries.ReplaceOne(ctx, bson.M{"_id": doc.SubjectKey}, doc, opts); err != nil {
		slog.Error("MongoSummaryRepo SaveSummary failed", "error", err, "subject", sum.SubjectName)
		return fmt.Errorf("failed to upsert summary for %s: %w", sum.SubjectName, err)
	}
	slog.Debug("MongoSummaryRepo SaveSummary succeeded", "subject", sum.SubjectName)
	return nil
}

func (r *MongoSummaryRepo) GetSummary(ctx context.Context, subject string) (*models.SubjectSummary, error) {
	var doc summaryDocument
	err := r.summaries.FindOne(ctx, bson.M{"_id": subjectKey(subject)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		slog.Error("MongoSummaryRepo GetSummary failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to find summary: %w", err)
	}

	sum := &models.SubjectSummary{
		SubjectName: doc.SubjectName,
		Summaries:   make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
		Quotes:      make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
		UpdatedAt:   doc.UpdatedAt,
	}
	for _, c := range models.SummaryCategories {
		sum.Summaries[c] = doc.Summaries[string(c)]
		sum.Quotes[c] = doc.Quotes[string(c)]
	}
	return sum, nil
}

// SummaryOverlay serves messages and sessions from a Store and summaries from
// a separate SummaryRepo.
type SummaryOverlay struct {
	Store
	Summaries SummaryRepo
}

func (o *SummaryOverlay) SaveSummary(ctx context.Context, sum models.SubjectSummary) error {
	return o.Summaries.SaveSummary(ctx, sum)
}

func (o *SummaryOverlay) GetSummary(ctx context.Context, subject string) (*models.SubjectSummary, error) {
	return o.Summaries.GetSummary(ctx, subject)
}

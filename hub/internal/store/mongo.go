package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const projectsCollection = "projects"

// MongoStore implements Directory on a MongoDB "projects" collection.
type MongoStore struct {
	client   *mongo.Client
	projects *mongo.Collection
}

type projectDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Users     []string           `bson:"users"`
	FileTree  bson.Raw           `bson:"fileTree,omitempty"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// NewMongo connects to uri and uses the given database.
func NewMongo(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoStore{
		client:   client,
		projects: client.Database(database).Collection(projectsCollection),
	}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateProject(ctx context.Context, p *Project) error {
	oid := primitive.NewObjectID()
	if p.ID != "" {
		var err error
		if oid, err = primitive.ObjectIDFromHex(p.ID); err != nil {
			return fmt.Errorf("project id: %w", err)
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	raw, err := treeToBSON(p.FileTree)
	if err != nil {
		return err
	}
	doc := projectDoc{
		ID:        oid,
		Name:      p.Name,
		Users:     p.Members,
		FileTree:  raw,
		UpdatedAt: p.UpdatedAt,
	}
	if doc.Users == nil {
		doc.Users = []string{}
	}
	if _, err := s.projects.InsertOne(ctx, doc); err != nil {
		return err
	}
	p.ID = oid.Hex()
	return nil
}

func (s *MongoStore) FindProject(ctx context.Context, ref string) (*Project, error) {
	oid, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil, nil
	}
	var doc projectDoc
	err = s.projects.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tree, err := treeFromBSON(doc.FileTree)
	if err != nil {
		return nil, err
	}
	return &Project{
		ID:        doc.ID.Hex(),
		Name:      doc.Name,
		Members:   doc.Users,
		FileTree:  tree,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *MongoStore) GetFileTree(ctx context.Context, projectID string) (FileTree, error) {
	oid, err := primitive.ObjectIDFromHex(projectID)
	if err != nil {
		return nil, ErrProjectNotFound
	}
	var doc struct {
		FileTree bson.Raw `bson:"fileTree,omitempty"`
	}
	opts := options.FindOne().SetProjection(bson.M{"fileTree": 1})
	err = s.projects.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return treeFromBSON(doc.FileTree)
}

func (s *MongoStore) PutFileTree(ctx context.Context, projectID string, tree FileTree) error {
	oid, err := primitive.ObjectIDFromHex(projectID)
	if err != nil {
		return ErrProjectNotFound
	}
	raw, err := treeToBSON(tree)
	if err != nil {
		return err
	}
	res, err := s.projects.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"fileTree": raw, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// treeToBSON stores the tree as an embedded document so it stays queryable
// from the mongo shell.
func treeToBSON(t FileTree) (bson.Raw, error) {
	encoded, err := encodeTree(t)
	if err != nil {
		return nil, fmt.Errorf("encode file tree: %w", err)
	}
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON([]byte(encoded), false, &raw); err != nil {
		return nil, fmt.Errorf("convert file tree: %w", err)
	}
	return raw, nil
}

func treeFromBSON(raw bson.Raw) (FileTree, error) {
	if len(raw) == 0 {
		return FileTree{}, nil
	}
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert file tree: %w", err)
	}
	return decodeTree(string(b))
}

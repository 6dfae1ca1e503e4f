package book

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionName is the collection holding the catalog.
const CollectionName = "books"

type bookDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Title         string             `bson:"title"`
	Author        string             `bson:"author"`
	Description   string             `bson:"description,omitempty"`
	Price         float64            `bson:"price"`
	Quantity      int                `bson:"quantity"`
	Tags          []string           `bson:"tags"`
	ImageURL      *string            `bson:"imageUrl"`
	ISBN          *string            `bson:"isbn,omitempty"`
	PublishedDate *time.Time         `bson:"publishedDate,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
}

func toDocument(b *Book) bookDocument {
	return bookDocument{
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Price:         b.Price,
		Quantity:      b.Quantity,
		Tags:          b.Tags,
		ImageURL:      b.ImageURL,
		ISBN:          b.ISBN,
		PublishedDate: b.PublishedDate,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (d bookDocument) toBook() Book {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	b := Book{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Author:      d.Author,
		Description: d.Description,
		Price:       d.Price,
		Quantity:    d.Quantity,
		Tags:        tags,
		ImageURL:    d.ImageURL,
		ISBN:        d.ISBN,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.PublishedDate != nil {
		t := d.PublishedDate.UTC()
		b.PublishedDate = &t
	}
	return b
}

type MongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoRepo(db *mongo.Database, timeout time.Duration) *MongoRepo {
	return &MongoRepo{coll: db.Collection(CollectionName), timeout: timeout}
}

func (r *MongoRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// EnsureIndexes creates the text, sparse-unique isbn and listing indexes. A
// failing index does not stop the others; the errors are joined.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "title", Value: "text"}, {Key: "author", Value: "text"}, {Key: "tags", Value: "text"}, {Key: "description", Value: "text"}},
			Options: options.Index().SetName("books_text").SetWeights(bson.D{
				{Key: "title", Value: 10}, {Key: "author", Value: 5}, {Key: "tags", Value: 3}, {Key: "description", Value: 1},
			}),
		},
		{
			Keys: bson.D{{Key: "isbn", Value: 1}},
			Options: options.Index().SetName("books_isbn_unique").SetUnique(true).
				SetPartialFilterExpression(bson.M{"isbn": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("books_created_at"),
		},
		{
			Keys:    bson.D{{Key: "tags", Value: 1}},
			Options: options.Index().SetName("books_tags"),
		},
	}

	var errs []error
	for _, m := range models {
		ctx, cancel := r.withTimeout(ctx)
		_, err := r.coll.Indexes().CreateOne(ctx, m)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("create index: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *MongoRepo) List(ctx context.Context, q Query) ([]Book, int64, error) {
	filter := filterToBSON(q.Filter)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Skip())).
		SetLimit(int64(q.Limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find books: %w", err)
	}
	books, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *MongoRepo) Tags(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	values, err := r.coll.Distinct(ctx, "tags", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct tags: %w", err)
	}
	tags := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			tags = append(tags, s)
		}
	}
	return tags, nil
}

func (r *MongoRepo) Get(ctx context.Context, id string) (Book, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Book{}, ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var doc bookDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("find book: %w", err)
	}
	return doc.toBook(), nil
}

func (r *MongoRepo) Create(ctx context.Context, b *Book) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	doc := toDocument(b)
	doc.ID = primitive.NewObjectID()
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("insert book: %w", err)
	}
	b.ID = doc.ID.Hex()
	return nil
}

func (r *MongoRepo) Update(ctx context.Context, b *Book) error {
	oid, err := primitive.ObjectIDFromHex(b.ID)
	if err != nil {
		return ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	doc := toDocument(b)
	doc.ID = oid
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("replace book: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepo) UpdateQuantity(ctx context.Context, id string, quantity int, at time.Time) (Book, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Book{}, ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"quantity": quantity, "updatedAt": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc bookDocument
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("update quantity: %w", err)
	}
	return doc.toBook(), nil
}

func (r *MongoRepo) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepo) Search(ctx context.Context, text string, limit int) ([]Book, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	score := bson.M{"$meta": "textScore"}
	opts := options.Find().
		SetProjection(bson.M{"score": score}).
		SetSort(bson.D{{Key: "score", Value: score}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{"$text": bson.M{"$search": text}}, opts)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return decodeAll(ctx, cur)
}

func (r *MongoRepo) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]Book, error) {
	defer cur.Close(ctx)

	out := []Book{}
	for cur.Next(ctx) {
		var doc bookDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode book: %w", err)
		}
		out = append(out, doc.toBook())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return out, nil
}

// filterToBSON renders f as a MongoDB query document.
func filterToBSON(f Filter) bson.M {
	m := bson.M{}
	if f.Title != "" {
		m["title"] = containsRegex(f.Title)
	}
	if f.Author != "" {
		m["author"] = containsRegex(f.Author)
	}
	if f.ISBN != "" {
		m["isbn"] = containsRegex(f.ISBN)
	}
	if len(f.Tags) > 0 {
		m["tags"] = bson.M{"$in": f.Tags}
	}
	if r := rangeBSON(f.MinPrice, f.MaxPrice); r != nil {
		m["price"] = r
	}
	if r := rangeBSON(f.MinQuantity, f.MaxQuantity); r != nil {
		m["quantity"] = r
	}
	if f.PublishedDate != nil {
		start, end := f.DayRange()
		m["publishedDate"] = bson.M{"$gte": start, "$lt": end}
	}
	return m
}

func containsRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func rangeBSON[T int | float64](lo, hi *T) bson.M {
	if lo == nil && hi == nil {
		return nil
	}
	r := bson.M{}
	if lo != nil {
		r["$gte"] = *lo
	}
	if hi != nil {
		r["$lte"] = *hi
	}
	return r
}

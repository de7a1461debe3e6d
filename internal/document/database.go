package document

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	documentBucketName = "documents"
	tripBucketName     = "trips"
	identityBucketName = "identities"
	settingsBucketName = "settings"
)

// Store is the record repository the reconciler writes through
type Store interface {
	// CreateDocument saves a new document and assigns its ID
	CreateDocument(doc *Document) error

	// UpdateDocument overwrites an existing document
	UpdateDocument(doc *Document) error

	// GetDocument retrieves a document by ID
	GetDocument(id uint64) (*Document, error)

	// ListDocumentsBySource returns the documents split from one stored file, ordered by ID
	ListDocumentsBySource(sourceURI string) ([]*Document, error)

	// DeleteDocument removes a document from the database
	DeleteDocument(id uint64) error

	// ListTrips returns all trips, newest start first
	ListTrips() ([]*Trip, error)
}

// DB defines the interface for database operations
type DB interface {
	Store

	// Update runs fn against a transactional view of the store. Either every
	// write made through the view is committed or none is.
	Update(fn func(Store) error) error

	// ListDocuments returns all documents ordered by date
	ListDocuments() ([]*Document, error)

	// ListDocumentsByTrip returns the documents filed into a trip, ordered by date
	ListDocumentsByTrip(tripID uint64) ([]*Document, error)

	// CreateTrip saves a new trip and assigns its ID
	CreateTrip(trip *Trip) error

	// UpdateTrip overwrites an existing trip
	UpdateTrip(trip *Trip) error

	// GetTrip retrieves a trip by ID
	GetTrip(id uint64) (*Trip, error)

	// DeleteTrip removes a trip and unlinks its documents
	DeleteTrip(id uint64) error

	// CreateIdentity saves a new identity document and assigns its ID
	CreateIdentity(doc *IdentityDocument) error

	// UpdateIdentity overwrites an existing identity document
	UpdateIdentity(doc *IdentityDocument) error

	// GetIdentity retrieves an identity document by ID
	GetIdentity(id uint64) (*IdentityDocument, error)

	// ListIdentities returns all identity documents, newest first
	ListIdentities() ([]*IdentityDocument, error)

	// DeleteIdentity removes an identity document
	DeleteIdentity(id uint64) error

	// GetSetting returns a stored setting, or "" when unset
	GetSetting(key string) (string, error)

	// PutSetting stores a setting; an empty value removes it
	PutSetting(key, value string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentBucketName, tripBucketName, identityBucketName, settingsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// itob encodes an ID as a big-endian key so cursor order matches ID order
func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// boltStore implements Store on top of an open transaction
type boltStore struct {
	tx *bbolt.Tx
}

func (s boltStore) CreateDocument(doc *Document) error {
	bucket := s.tx.Bucket([]byte(documentBucketName))
	id, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("allocating document id: %w", err)
	}
	doc.ID = id
	return putJSON(bucket, id, doc)
}

func (s boltStore) UpdateDocument(doc *Document) error {
	bucket := s.tx.Bucket([]byte(documentBucketName))
	if bucket.Get(itob(doc.ID)) == nil {
		return fmt.Errorf("document %d: %w", doc.ID, ErrNotFound)
	}
	return putJSON(bucket, doc.ID, doc)
}

func (s boltStore) GetDocument(id uint64) (*Document, error) {
	var doc Document
	data := s.tx.Bucket([]byte(documentBucketName)).Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	return &doc, nil
}

func (s boltStore) ListDocumentsBySource(sourceURI string) ([]*Document, error) {
	docs, err := s.listDocuments(func(d *Document) bool {
		return d.SourceURI == sourceURI
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s boltStore) DeleteDocument(id uint64) error {
	return s.tx.Bucket([]byte(documentBucketName)).Delete(itob(id))
}

func (s boltStore) ListTrips() ([]*Trip, error) {
	trips := make([]*Trip, 0)
	err := s.tx.Bucket([]byte(tripBucketName)).ForEach(func(k, v []byte) error {
		var trip Trip
		if err := json.Unmarshal(v, &trip); err != nil {
			return fmt.Errorf("unmarshaling trip: %w", err)
		}
		trips = append(trips, &trip)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].StartDate.After(trips[j].StartDate)
	})
	return trips, nil
}

func (s boltStore) listDocuments(keep func(*Document) bool) ([]*Document, error) {
	docs := make([]*Document, 0)
	err := s.tx.Bucket([]byte(documentBucketName)).ForEach(func(k, v []byte) error {
		var doc Document
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		if keep == nil || keep(&doc) {
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].OccurredAt.Before(docs[j].OccurredAt)
	})
	return docs, nil
}

func putJSON(bucket *bbolt.Bucket, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return bucket.Put(itob(id), data)
}

func getJSON(bucket *bbolt.Bucket, id uint64, kind string, v any) error {
	data := bucket.Get(itob(id))
	if data == nil {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", kind, err)
	}
	return nil
}

// Update runs fn inside a single read-write transaction
func (b *BoltDB) Update(fn func(Store) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(boltStore{tx: tx})
	})
}

// CreateDocument saves a new document and assigns its ID
func (b *BoltDB) CreateDocument(doc *Document) error {
	return b.Update(func(s Store) error {
		return s.CreateDocument(doc)
	})
}

// UpdateDocument overwrites an existing document
func (b *BoltDB) UpdateDocument(doc *Document) error {
	return b.Update(func(s Store) error {
		return s.UpdateDocument(doc)
	})
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(id uint64) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = boltStore{tx: tx}.GetDocument(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by date
func (b *BoltDB) ListDocuments() ([]*Document, error) {
	var docs []*Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		docs, err = boltStore{tx: tx}.listDocuments(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ListDocumentsByTrip returns the documents filed into a trip
func (b *BoltDB) ListDocumentsByTrip(tripID uint64) ([]*Document, error) {
	var docs []*Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		docs, err = boltStore{tx: tx}.listDocuments(func(d *Document) bool {
			return d.TripID == tripID
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ListDocumentsBySource returns the documents split from one stored file, ordered by ID
func (b *BoltDB) ListDocumentsBySource(sourceURI string) ([]*Document, error) {
	var docs []*Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		docs, err = boltStore{tx: tx}.ListDocumentsBySource(sourceURI)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes a document from the database
func (b *BoltDB) DeleteDocument(id uint64) error {
	return b.Update(func(s Store) error {
		return s.DeleteDocument(id)
	})
}

// CreateTrip saves a new trip and assigns its ID
func (b *BoltDB) CreateTrip(trip *Trip) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating trip id: %w", err)
		}
		trip.ID = id
		return putJSON(bucket, id, trip)
	})
}

// UpdateTrip overwrites an existing trip
func (b *BoltDB) UpdateTrip(trip *Trip) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		if bucket.Get(itob(trip.ID)) == nil {
			return fmt.Errorf("trip %d: %w", trip.ID, ErrNotFound)
		}
		return putJSON(bucket, trip.ID, trip)
	})
}

// GetTrip retrieves a trip by ID
func (b *BoltDB) GetTrip(id uint64) (*Trip, error) {
	var trip Trip
	err := b.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket([]byte(tripBucketName)), id, "trip", &trip)
	})
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// ListTrips returns all trips, newest start first
func (b *BoltDB) ListTrips() ([]*Trip, error) {
	var trips []*Trip
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		trips, err = boltStore{tx: tx}.ListTrips()
		return err
	})
	if err != nil {
		return nil, err
	}
	return trips, nil
}

// DeleteTrip removes a trip and clears the reference on its documents.
// Documents themselves are never deleted with a trip.
func (b *BoltDB) DeleteTrip(id uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		trips := tx.Bucket([]byte(tripBucketName))
		if trips.Get(itob(id)) == nil {
			return fmt.Errorf("trip %d: %w", id, ErrNotFound)
		}

		store := boltStore{tx: tx}
		docs, err := store.listDocuments(func(d *Document) bool {
			return d.TripID == id
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			doc.TripID = 0
			if err := store.UpdateDocument(doc); err != nil {
				return fmt.Errorf("unlinking document %d: %w", doc.ID, err)
			}
		}

		return trips.Delete(itob(id))
	})
}

// CreateIdentity saves a new identity document and assigns its ID
func (b *BoltDB) CreateIdentity(doc *IdentityDocument) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(identityBucketName))
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating identity id: %w", err)
		}
		doc.ID = id
		return putJSON(bucket, id, doc)
	})
}

// UpdateIdentity overwrites an existing identity document
func (b *BoltDB) UpdateIdentity(doc *IdentityDocument) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(identityBucketName))
		if bucket.Get(itob(doc.ID)) == nil {
			return fmt.Errorf("identity document %d: %w", doc.ID, ErrNotFound)
		}
		return putJSON(bucket, doc.ID, doc)
	})
}

// GetIdentity retrieves an identity document by ID
func (b *BoltDB) GetIdentity(id uint64) (*IdentityDocument, error) {
	var doc IdentityDocument
	err := b.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket([]byte(identityBucketName)), id, "identity document", &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListIdentities returns all identity documents, newest first
func (b *BoltDB) ListIdentities() ([]*IdentityDocument, error) {
	docs := make([]*IdentityDocument, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(identityBucketName)).ForEach(func(k, v []byte) error {
			var doc IdentityDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling identity document: %w", err)
			}
			docs = append(docs, &doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// DeleteIdentity removes an identity document
func (b *BoltDB) DeleteIdentity(id uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(identityBucketName)).Delete(itob(id))
	})
}

// GetSetting returns a stored setting, or "" when unset
func (b *BoltDB) GetSetting(key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		value = string(tx.Bucket([]byte(settingsBucketName)).Get([]byte(key)))
		return nil
	})
	return value, err
}

// PutSetting stores a setting; an empty value removes it
func (b *BoltDB) PutSetting(key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		if value == "" {
			return bucket.Delete([]byte(key))
		}
		return bucket.Put([]byte(key), []byte(value))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/findmytreasure/api/internal/domain"
	pfirestore "github.com/findmytreasure/api/internal/platform/firestore"
	"github.com/findmytreasure/api/internal/platform/pagination"
	"github.com/findmytreasure/api/internal/repositories"
)

const lostItemCollection = "lostItems"

// JobRepository persists lost-item recovery jobs in Firestore.
type JobRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[lostItemDocument]
}

// NewJobRepository constructs a Firestore-backed job repository.
func NewJobRepository(provider *pfirestore.Provider) (*JobRepository, error) {
	if provider == nil {
		return nil, errors.New("job repository requires firestore provider")
	}
	return &JobRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[lostItemDocument](provider, lostItemCollection, nil, nil),
	}, nil
}

// Insert stores a new job under a store-assigned identifier and stamps the
// creation timestamps.
func (r *JobRepository) Insert(ctx context.Context, job domain.Job) (domain.Job, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	if !job.CreatedAt.IsZero() {
		now = job.CreatedAt.UTC()
	}

	doc := lostItemDocumentFromDomain(job)
	if doc.Status == "" {
		doc.Status = string(domain.JobStatusPending)
	}
	if doc.PaymentStatus == "" {
		doc.PaymentStatus = string(domain.JobPaymentStatusUnpaid)
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	id := strings.TrimSpace(job.ID)
	if id == "" {
		// ULIDs sort by creation time, which keeps document order aligned
		// with the createdAt-descending listings.
		id = ulid.Make().String()
	}
	docRef := coll.Doc(id)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return domain.Job{}, pfirestore.WrapError("lost_items.insert", err)
	}
	return doc.toDomain(docRef.ID), nil
}

// FindByID loads a single job by identifier.
func (r *JobRepository) FindByID(ctx context.Context, jobID string) (domain.Job, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns jobs matching the filter ordered by creation time descending,
// paged through opaque cursor tokens.
func (r *JobRepository) List(ctx context.Context, filter repositories.JobListFilter) (domain.CursorPage[domain.Job], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Job]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if len(filter.Status) == 1 {
			query = query.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if worker := strings.TrimSpace(filter.AssignedTo); worker != "" {
			query = query.Where("assignedTo", "==", worker)
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := decodeJobCursor(cursor); ok {
			query = query.StartAfter(after.createdAt, after.id)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Job]{}, err
	}

	page := domain.CursorPage[domain.Job]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Job]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus transitions the job to the requested status inside a
// transaction. Illegal transitions surface as *domain.ErrIllegalTransition;
// entering recovered stamps RecoveredAt.
func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, next domain.JobStatus, now time.Time) (domain.Job, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: id is required")
	}
	now = now.UTC()

	var saved domain.Job
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc lostItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode lost item %s: %w", id, err)
		}

		if err := domain.ValidateTransition(domain.JobStatus(doc.Status), next); err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: "updatedAt", Value: now},
		}
		doc.Status = string(next)
		doc.UpdatedAt = now
		if next == domain.JobStatusRecovered {
			updates = append(updates, firestore.Update{Path: "recoveredAt", Value: now})
			doc.RecoveredAt = &now
		}
		if err := tx.Update(docRef, updates); err != nil {
			return err
		}
		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		var illegal *domain.ErrIllegalTransition
		if errors.As(err, &illegal) {
			return domain.Job{}, illegal
		}
		return domain.Job{}, pfirestore.WrapError("lost_items.update_status", err)
	}
	return saved, nil
}

// Assign records the recovery worker on the job. A pending job advances to
// assigned as part of the same write.
func (r *JobRepository) Assign(ctx context.Context, jobID string, workerID string, workerName string, now time.Time) (domain.Job, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: id is required")
	}
	worker := strings.TrimSpace(workerID)
	if worker == "" {
		return domain.Job{}, errors.New("job repository: worker id is required")
	}
	now = now.UTC()

	var saved domain.Job
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc lostItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode lost item %s: %w", id, err)
		}

		if domain.IsTerminalStatus(domain.JobStatus(doc.Status)) {
			return status.Errorf(codes.FailedPrecondition, "job %s is %s", id, doc.Status)
		}

		updates := []firestore.Update{
			{Path: "assignedTo", Value: worker},
			{Path: "assignedToName", Value: strings.TrimSpace(workerName)},
			{Path: "updatedAt", Value: now},
		}
		doc.AssignedTo = worker
		doc.AssignedToName = strings.TrimSpace(workerName)
		doc.UpdatedAt = now
		if domain.JobStatus(doc.Status) == domain.JobStatusPending {
			updates = append(updates, firestore.Update{Path: "status", Value: string(domain.JobStatusAssigned)})
			doc.Status = string(domain.JobStatusAssigned)
		}
		if err := tx.Update(docRef, updates); err != nil {
			return err
		}
		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		return domain.Job{}, pfirestore.WrapError("lost_items.assign", err)
	}
	return saved, nil
}

// UpdateNotes patches the staff note fields. Nil pointers leave the stored
// value untouched.
func (r *JobRepository) UpdateNotes(ctx context.Context, jobID string, update repositories.JobNotesUpdate, now time.Time) (domain.Job, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: id is required")
	}
	if update.AdminNotes == nil && update.RecoveryNotes == nil {
		return domain.Job{}, errors.New("job repository: no note fields to update")
	}
	now = now.UTC()

	var saved domain.Job
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc lostItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode lost item %s: %w", id, err)
		}

		updates := []firestore.Update{{Path: "updatedAt", Value: now}}
		if update.AdminNotes != nil {
			doc.AdminNotes = strings.TrimSpace(*update.AdminNotes)
			updates = append(updates, firestore.Update{Path: "adminNotes", Value: doc.AdminNotes})
		}
		if update.RecoveryNotes != nil {
			doc.RecoveryNotes = strings.TrimSpace(*update.RecoveryNotes)
			updates = append(updates, firestore.Update{Path: "recoveryNotes", Value: doc.RecoveryNotes})
		}
		doc.UpdatedAt = now
		if err := tx.Update(docRef, updates); err != nil {
			return err
		}
		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		return domain.Job{}, pfirestore.WrapError("lost_items.update_notes", err)
	}
	return saved, nil
}

func (r *JobRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("job repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(lostItemCollection), nil
}

type jobCursor struct {
	createdAt time.Time
	id        string
}

func decodeJobCursor(cursor pagination.Cursor) (jobCursor, bool) {
	if len(cursor.StartAfter) != 2 {
		return jobCursor{}, false
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return jobCursor{}, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return jobCursor{}, false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return jobCursor{}, false
	}
	return jobCursor{createdAt: createdAt, id: id}, true
}

type lostItemLocation struct {
	Lat          float64 `firestore:"lat"`
	Lng          float64 `firestore:"lng"`
	Address      string  `firestore:"address,omitempty"`
	SearchRadius float64 `firestore:"searchRadius,omitempty"`
}

type lostItemDocument struct {
	UserID           string            `firestore:"userId,omitempty"`
	UserName         string            `firestore:"userName"`
	UserEmail        string            `firestore:"userEmail"`
	UserPhone        string            `firestore:"userPhone,omitempty"`
	PreferredContact string            `firestore:"preferredContact,omitempty"`
	ItemType         string            `firestore:"itemType"`
	ItemDescription  string            `firestore:"itemDescription"`
	EstimatedValue   float64           `firestore:"estimatedValue,omitempty"`
	DateLost         string            `firestore:"dateLost,omitempty"`
	TimeLost         string            `firestore:"timeLost,omitempty"`
	Location         *lostItemLocation `firestore:"location,omitempty"`
	Circumstances    string            `firestore:"circumstances,omitempty"`
	Photos           []string          `firestore:"photos,omitempty"`
	Status           string            `firestore:"status"`
	AssignedTo       string            `firestore:"assignedTo,omitempty"`
	AssignedToName   string            `firestore:"assignedToName,omitempty"`
	PaymentStatus    string            `firestore:"paymentStatus"`
	EstimatedCost    float64           `firestore:"estimatedCost,omitempty"`
	FindersFee       float64           `firestore:"findersFee,omitempty"`
	DepositAmount    *float64          `firestore:"depositAmount,omitempty"`
	FinalCost        *float64          `firestore:"finalCost,omitempty"`
	AdminNotes       string            `firestore:"adminNotes,omitempty"`
	RecoveryNotes    string            `firestore:"recoveryNotes,omitempty"`
	RecoveryPhotos   []string          `firestore:"recoveryPhotos,omitempty"`
	CreatedAt        time.Time         `firestore:"createdAt"`
	UpdatedAt        time.Time         `firestore:"updatedAt"`
	RecoveredAt      *time.Time        `firestore:"recoveredAt,omitempty"`
}

func lostItemDocumentFromDomain(job domain.Job) lostItemDocument {
	doc := lostItemDocument{
		UserID:           strings.TrimSpace(job.UserID),
		UserName:         strings.TrimSpace(job.UserName),
		UserEmail:        strings.TrimSpace(job.UserEmail),
		UserPhone:        strings.TrimSpace(job.UserPhone),
		PreferredContact: strings.TrimSpace(job.PreferredContact),
		ItemType:         strings.TrimSpace(job.ItemType),
		ItemDescription:  strings.TrimSpace(job.ItemDescription),
		EstimatedValue:   job.EstimatedValue,
		DateLost:         strings.TrimSpace(job.DateLost),
		TimeLost:         strings.TrimSpace(job.TimeLost),
		Circumstances:    strings.TrimSpace(job.Circumstances),
		Photos:           job.Photos,
		Status:           string(job.Status),
		AssignedTo:       strings.TrimSpace(job.AssignedTo),
		AssignedToName:   strings.TrimSpace(job.AssignedToName),
		PaymentStatus:    string(job.PaymentStatus),
		EstimatedCost:    job.EstimatedCost,
		FindersFee:       job.FindersFee,
		DepositAmount:    job.DepositAmount,
		FinalCost:        job.FinalCost,
		AdminNotes:       strings.TrimSpace(job.AdminNotes),
		RecoveryNotes:    strings.TrimSpace(job.RecoveryNotes),
		RecoveryPhotos:   job.RecoveryPhotos,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
	if job.Location != nil {
		doc.Location = &lostItemLocation{
			Lat:          job.Location.Lat,
			Lng:          job.Location.Lng,
			Address:      strings.TrimSpace(job.Location.Address),
			SearchRadius: job.Location.SearchRadius,
		}
	}
	if job.RecoveredAt != nil {
		recovered := job.RecoveredAt.UTC()
		doc.RecoveredAt = &recovered
	}
	return doc
}

func (d lostItemDocument) toDomain(id string) domain.Job {
	job := domain.Job{
		ID:               id,
		UserID:           d.UserID,
		UserName:         d.UserName,
		UserEmail:        d.UserEmail,
		UserPhone:        d.UserPhone,
		PreferredContact: d.PreferredContact,
		ItemType:         d.ItemType,
		ItemDescription:  d.ItemDescription,
		EstimatedValue:   d.EstimatedValue,
		DateLost:         d.DateLost,
		TimeLost:         d.TimeLost,
		Circumstances:    d.Circumstances,
		Photos:           d.Photos,
		Status:           domain.JobStatus(d.Status),
		AssignedTo:       d.AssignedTo,
		AssignedToName:   d.AssignedToName,
		PaymentStatus:    domain.JobPaymentStatus(d.PaymentStatus),
		EstimatedCost:    d.EstimatedCost,
		FindersFee:       d.FindersFee,
		DepositAmount:    d.DepositAmount,
		FinalCost:        d.FinalCost,
		AdminNotes:       d.AdminNotes,
		RecoveryNotes:    d.RecoveryNotes,
		RecoveryPhotos:   d.RecoveryPhotos,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		RecoveredAt:      d.RecoveredAt,
	}
	if d.Location != nil {
		job.Location = &domain.Location{
			Lat:          d.Location.Lat,
			Lng:          d.Location.Lng,
			Address:      d.Location.Address,
			SearchRadius: d.Location.SearchRadius,
		}
	}
	return job
}

// Ensure interface compliance.
var _ repositories.JobRepository = (*JobRepository)(nil)

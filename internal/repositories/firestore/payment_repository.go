package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/findmytreasure/api/internal/domain"
	pfirestore "github.com/findmytreasure/api/internal/platform/firestore"
	"github.com/findmytreasure/api/internal/repositories"
)

const paymentCollection = "payments"

// PaymentRepository persists gateway payment records in Firestore and carries
// out the atomic payment/job reconciliation writes.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

// Insert stores a new payment record, refusing duplicate session identifiers.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}

	sessionID := strings.TrimSpace(payment.SessionID)
	if sessionID == "" {
		return domain.Payment{}, errors.New("payment repository: session id is required")
	}

	now := time.Now().UTC()
	if !payment.CreatedAt.IsZero() {
		now = payment.CreatedAt.UTC()
	}

	var saved domain.Payment
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := coll.Where("stripeSessionId", "==", sessionID).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if len(snaps) > 0 {
			return status.Error(codes.AlreadyExists, "payment already recorded for session")
		}

		id := strings.TrimSpace(payment.ID)
		if id == "" {
			id = ulid.Make().String()
		}
		docRef := coll.Doc(id)

		doc := paymentDocument{
			UserID:          strings.TrimSpace(payment.UserID),
			ItemID:          strings.TrimSpace(payment.JobID),
			SessionID:       sessionID,
			PaymentIntentID: strings.TrimSpace(payment.PaymentIntentID),
			Amount:          payment.Amount,
			Currency:        strings.ToLower(strings.TrimSpace(payment.Currency)),
			Status:          string(payment.Status),
			PaymentType:     string(payment.Type),
			CreatedAt:       now,
		}
		if doc.Status == "" {
			doc.Status = string(domain.PaymentStatusPending)
		}
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.insert", err)
	}
	return saved, nil
}

// FindByID loads a single payment by identifier.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.get", err)
	}
	return decodePaymentDocument(snap)
}

// FindBySessionID resolves a payment through its gateway session identifier.
// An empty result maps to not-found.
func (r *PaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Payment{}, errors.New("payment repository: session id is required")
	}

	iter := coll.Where("stripeSessionId", "==", sid).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Payment{}, pfirestore.WrapError("payments.find_by_session",
			status.Errorf(codes.NotFound, "payment for session %s not found", sid))
	}
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.find_by_session", err)
	}
	return decodePaymentDocument(snap)
}

// ListByJob returns all payments recorded against a job, newest first.
func (r *PaymentRepository) ListByJob(ctx context.Context, jobID string) ([]domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(jobID)
	if id == "" {
		return nil, errors.New("payment repository: job id is required")
	}

	iter := coll.Where("itemId", "==", id).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var payments []domain.Payment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("payments.list_by_job", err)
		}
		payment, err := decodePaymentDocument(snap)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

// ApplySessionSuccess marks the payment for the given checkout session as
// succeeded and advances the linked job's payment status, all in one
// transaction. A payment that already succeeded yields Applied=false without
// any write; an unknown session yields Found=false. Neither is an error.
func (r *PaymentRepository) ApplySessionSuccess(ctx context.Context, sessionID string, intentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return repositories.PaymentReconcileResult{}, err
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return repositories.PaymentReconcileResult{}, errors.New("payment repository: session id is required")
	}
	now = now.UTC()

	var result repositories.PaymentReconcileResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.PaymentReconcileResult{}

		query := coll.Where("stripeSessionId", "==", sid).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		result.Found = true

		var doc paymentDocument
		if err := snaps[0].DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", snaps[0].Ref.ID, err)
		}
		if doc.Status == string(domain.PaymentStatusSucceeded) {
			// Duplicate delivery: acknowledge without touching anything.
			result.Payment = doc.toDomain(snaps[0].Ref.ID)
			return nil
		}

		// Read the linked job before any write; Firestore transactions
		// require all reads up front.
		var jobSnap *firestore.DocumentSnapshot
		var jobDoc lostItemDocument
		if doc.ItemID != "" {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			jobRef := client.Collection(lostItemCollection).Doc(doc.ItemID)
			snap, err := tx.Get(jobRef)
			switch {
			case err == nil:
				if err := snap.DataTo(&jobDoc); err != nil {
					return fmt.Errorf("decode lost item %s: %w", doc.ItemID, err)
				}
				jobSnap = snap
			case status.Code(err) == codes.NotFound:
				// Payment references a missing job; settle the payment anyway.
			default:
				return err
			}
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(domain.PaymentStatusSucceeded)},
			{Path: "completedAt", Value: now},
		}
		doc.Status = string(domain.PaymentStatusSucceeded)
		doc.CompletedAt = &now
		if iid := strings.TrimSpace(intentID); iid != "" {
			updates = append(updates, firestore.Update{Path: "stripePaymentIntentId", Value: iid})
			doc.PaymentIntentID = iid
		}
		if err := tx.Update(snaps[0].Ref, updates); err != nil {
			return err
		}

		if jobSnap != nil {
			nextStatus := domain.PaymentStatusForType(domain.PaymentType(doc.PaymentType))
			if err := tx.Update(jobSnap.Ref, []firestore.Update{
				{Path: "paymentStatus", Value: string(nextStatus)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			jobDoc.PaymentStatus = string(nextStatus)
			jobDoc.UpdatedAt = now
			result.Job = jobDoc.toDomain(jobSnap.Ref.ID)
		}

		result.Payment = doc.toDomain(snaps[0].Ref.ID)
		result.Applied = true
		return nil
	})
	if err != nil {
		return repositories.PaymentReconcileResult{}, pfirestore.WrapError("payments.apply_session_success", err)
	}
	return result, nil
}

// ApplyIntentFailure marks the payment carrying the given payment intent as
// failed. Settled payments are never downgraded; an unknown intent yields
// Found=false.
func (r *PaymentRepository) ApplyIntentFailure(ctx context.Context, intentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return repositories.PaymentReconcileResult{}, err
	}
	iid := strings.TrimSpace(intentID)
	if iid == "" {
		return repositories.PaymentReconcileResult{}, errors.New("payment repository: intent id is required")
	}
	now = now.UTC()

	var result repositories.PaymentReconcileResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.PaymentReconcileResult{}

		query := coll.Where("stripePaymentIntentId", "==", iid).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		result.Found = true

		var doc paymentDocument
		if err := snaps[0].DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", snaps[0].Ref.ID, err)
		}
		switch doc.Status {
		case string(domain.PaymentStatusSucceeded), string(domain.PaymentStatusRefunded):
			result.Payment = doc.toDomain(snaps[0].Ref.ID)
			return nil
		case string(domain.PaymentStatusFailed):
			result.Payment = doc.toDomain(snaps[0].Ref.ID)
			return nil
		}

		if err := tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "status", Value: string(domain.PaymentStatusFailed)},
		}); err != nil {
			return err
		}
		doc.Status = string(domain.PaymentStatusFailed)
		result.Payment = doc.toDomain(snaps[0].Ref.ID)
		result.Applied = true
		return nil
	})
	if err != nil {
		return repositories.PaymentReconcileResult{}, pfirestore.WrapError("payments.apply_intent_failure", err)
	}
	return result, nil
}

// MarkRefunded flips a settled payment and its job to refunded.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, paymentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return repositories.PaymentReconcileResult{}, err
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return repositories.PaymentReconcileResult{}, errors.New("payment repository: id is required")
	}
	now = now.UTC()

	var result repositories.PaymentReconcileResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.PaymentReconcileResult{}

		docRef := coll.Doc(id)
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		result.Found = true

		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", id, err)
		}
		if doc.Status != string(domain.PaymentStatusSucceeded) {
			return status.Errorf(codes.FailedPrecondition, "payment %s is %s, not succeeded", id, doc.Status)
		}

		var jobSnap *firestore.DocumentSnapshot
		var jobDoc lostItemDocument
		if doc.ItemID != "" {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			jobRef := client.Collection(lostItemCollection).Doc(doc.ItemID)
			s, err := tx.Get(jobRef)
			switch {
			case err == nil:
				if err := s.DataTo(&jobDoc); err != nil {
					return fmt.Errorf("decode lost item %s: %w", doc.ItemID, err)
				}
				jobSnap = s
			case status.Code(err) == codes.NotFound:
			default:
				return err
			}
		}

		if err := tx.Update(docRef, []firestore.Update{
			{Path: "status", Value: string(domain.PaymentStatusRefunded)},
		}); err != nil {
			return err
		}
		doc.Status = string(domain.PaymentStatusRefunded)

		if jobSnap != nil {
			if err := tx.Update(jobSnap.Ref, []firestore.Update{
				{Path: "paymentStatus", Value: string(domain.JobPaymentStatusRefunded)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			jobDoc.PaymentStatus = string(domain.JobPaymentStatusRefunded)
			jobDoc.UpdatedAt = now
			result.Job = jobDoc.toDomain(jobSnap.Ref.ID)
		}

		result.Payment = doc.toDomain(docRef.ID)
		result.Applied = true
		return nil
	})
	if err != nil {
		return repositories.PaymentReconcileResult{}, pfirestore.WrapError("payments.mark_refunded", err)
	}
	return result, nil
}

func (r *PaymentRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(paymentCollection), nil
}

func decodePaymentDocument(snapshot *firestore.DocumentSnapshot) (domain.Payment, error) {
	var doc paymentDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment %s: %w", snapshot.Ref.ID, err)
	}
	return doc.toDomain(snapshot.Ref.ID), nil
}

type paymentDocument struct {
	UserID          string     `firestore:"userId,omitempty"`
	ItemID          string     `firestore:"itemId"`
	SessionID       string     `firestore:"stripeSessionId"`
	PaymentIntentID string     `firestore:"stripePaymentIntentId,omitempty"`
	Amount          int64      `firestore:"amount"`
	Currency        string     `firestore:"currency"`
	Status          string     `firestore:"status"`
	PaymentType     string     `firestore:"paymentType"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	CompletedAt     *time.Time `firestore:"completedAt,omitempty"`
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:              id,
		UserID:          d.UserID,
		JobID:           d.ItemID,
		SessionID:       d.SessionID,
		PaymentIntentID: d.PaymentIntentID,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Status:          domain.PaymentStatus(d.Status),
		Type:            domain.PaymentType(d.PaymentType),
		CreatedAt:       d.CreatedAt,
		CompletedAt:     d.CompletedAt,
	}
}

// Ensure interface compliance.
var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

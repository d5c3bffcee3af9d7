package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neurovision/internal/dto"
	"neurovision/internal/model"
	"neurovision/internal/repository"
)

// ========================================
// Helpers
// ========================================

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(DriverPure, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUser(t *testing.T, db *DB, email string) int64 {
	t.Helper()
	id, err := NewUserRepository(db).Create(context.Background(), &model.User{
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test User",
	})
	require.NoError(t, err)
	return id
}

func recognitionFor(t *testing.T, imageID int64, objects string, accuracy float64) *model.RecognitionResult {
	t.Helper()
	res, err := model.NewRecognitionResult(imageID, model.RecognitionInput{
		RecognizedObjects:  []byte(objects),
		ProcessedImagePath: "/uploads/public/processed.jpg",
		Accuracy:           accuracy,
		Metrics:            model.Metrics{InferenceMs: 10},
		DetectionDetails:   []byte(`{}`),
	})
	require.NoError(t, err)
	return res
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// ========================================
// Database Tests
// ========================================

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := New(DriverPure, dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestDatabase_UnknownDriver(t *testing.T) {
	_, err := New("postgres", filepath.Join(t.TempDir(), "test.db"))
	require.Error(t, err)
}

func TestDatabase_MigrationIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.migrate())
}

// ========================================
// Gateway Tests
// ========================================

func TestGateway_SaveImageAndResult(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "a@example.com")
	gw := NewGateway(db)

	img, err := model.NewImage(userID, "https://i.imgur.com/abc.jpg", "corr-1")
	require.NoError(t, err)

	imageID, err := gw.SaveImage(ctx, img)
	require.NoError(t, err)
	require.Positive(t, imageID)
	require.Equal(t, imageID, img.ID)

	total := 55.5
	res := recognitionFor(t, imageID, `[]`, 0)
	res.TotalTimeMs = &total
	resultID, err := gw.SaveRecognitionResult(ctx, res)
	require.NoError(t, err)
	require.Positive(t, resultID)

	stored, err := NewRecognitionRepository(db).GetByImageID(ctx, imageID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, resultID, stored.ID)
	require.Equal(t, 10.0, *stored.InferenceTimeMs)
	require.Equal(t, 55.5, *stored.TotalTimeMs)
	require.Equal(t, 0.0, stored.Accuracy)
}

func TestGateway_SaveImage_UnknownUserIsPersistenceError(t *testing.T) {
	db := newTestDB(t)
	gw := NewGateway(db)

	img, err := model.NewImage(999, "x.jpg", "")
	require.NoError(t, err)

	_, err = gw.SaveImage(context.Background(), img)
	require.ErrorIs(t, err, repository.ErrPersistence)
	require.Equal(t, 0, countRows(t, db, "images"))
}

func TestGateway_InTx_CommitsBoth(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "b@example.com")
	gw := NewGateway(db)

	err := gw.InTx(ctx, func(store repository.AnalysisStore) error {
		img, err := model.NewImage(userID, "/uploads/public/a.jpg", "corr")
		if err != nil {
			return err
		}
		imageID, err := store.SaveImage(ctx, img)
		if err != nil {
			return err
		}
		_, err = store.SaveRecognitionResult(ctx, recognitionFor(t, imageID, `[]`, 0.5))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db, "images"))
	require.Equal(t, 1, countRows(t, db, "recognition_results"))
}

func TestGateway_InTx_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "c@example.com")
	gw := NewGateway(db)

	err := gw.InTx(ctx, func(store repository.AnalysisStore) error {
		img, _ := model.NewImage(userID, "/uploads/public/a.jpg", "corr")
		if _, err := store.SaveImage(ctx, img); err != nil {
			return err
		}
		// image 12345 does not exist, so the foreign key rejects the row
		_, err := store.SaveRecognitionResult(ctx, recognitionFor(t, 12345, `[]`, 0.5))
		return err
	})
	require.ErrorIs(t, err, repository.ErrPersistence)
	require.Equal(t, 0, countRows(t, db, "images"))
	require.Equal(t, 0, countRows(t, db, "recognition_results"))

	sentinel := errors.New("boom")
	err = gw.InTx(ctx, func(store repository.AnalysisStore) error {
		img, _ := model.NewImage(userID, "/uploads/public/b.jpg", "corr")
		if _, err := store.SaveImage(ctx, img); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 0, countRows(t, db, "images"))
}

func TestGateway_NoDeduplication(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "d@example.com")
	gw := NewGateway(db)

	for i := 0; i < 2; i++ {
		img, _ := model.NewImage(userID, "/uploads/public/same.jpg", "same")
		_, err := gw.SaveImage(ctx, img)
		require.NoError(t, err)
	}
	require.Equal(t, 2, countRows(t, db, "images"))
}

// ========================================
// Image Repository Tests
// ========================================

func seedAnalysis(t *testing.T, db *DB, userID int64, objects string, uploaded time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	img, err := model.NewImage(userID, "/uploads/public/seed.jpg", "seed")
	require.NoError(t, err)
	img.UploadedAt = uploaded

	var imageID int64
	require.NoError(t, NewGateway(db).InTx(ctx, func(store repository.AnalysisStore) error {
		var err error
		imageID, err = store.SaveImage(ctx, img)
		if err != nil {
			return err
		}
		_, err = store.SaveRecognitionResult(ctx, recognitionFor(t, imageID, objects, 0.6))
		return err
	}))
	return imageID
}

func TestImageRepository_GetAllFilters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := newTestUser(t, db, "alice@example.com")
	bob := newTestUser(t, db, "bob@example.com")
	repo := NewImageRepository(db)

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	catID := seedAnalysis(t, db, alice, `[{"class_id":15,"class_name":"cat","confidence":0.9,"bbox":[0,0,1,1]}]`, day1)
	seedAnalysis(t, db, alice, `[{"class_id":2,"class_name":"car","confidence":0.5,"bbox":[0,0,1,1]}]`, day2)
	seedAnalysis(t, db, bob, `[]`, day2)

	all, err := repo.GetAll(ctx, &dto.ImageFilters{UserID: alice})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].UploadedAt.After(all[1].UploadedAt))

	cats, err := repo.GetAll(ctx, &dto.ImageFilters{UserID: alice, Object: "cat"})
	require.NoError(t, err)
	require.Len(t, cats, 1)
	require.Equal(t, catID, cats[0].ID)

	later, err := repo.GetAll(ctx, &dto.ImageFilters{UserID: alice, DateAfter: day2})
	require.NoError(t, err)
	require.Len(t, later, 1)

	count, err := repo.GetTotalCount(ctx, &dto.ImageFilters{UserID: alice, DateBefore: day1})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	page, err := repo.GetAll(ctx, &dto.ImageFilters{UserID: alice, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, catID, page[0].ID)
}

func TestImageRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "e@example.com")
	imageID := seedAnalysis(t, db, userID, `[]`, time.Now().UTC())

	repo := NewImageRepository(db)
	require.NoError(t, repo.Delete(ctx, imageID))

	img, err := repo.GetByID(ctx, imageID)
	require.NoError(t, err)
	require.Nil(t, img)
	require.Equal(t, 0, countRows(t, db, "recognition_results"))
}

func TestImageRepository_GetStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "f@example.com")
	now := time.Now().UTC()
	seedAnalysis(t, db, userID, `[{"class_id":15,"class_name":"cat","confidence":0.9,"bbox":[0,0,1,1]},{"class_id":15,"class_name":"cat","confidence":0.7,"bbox":[0,0,1,1]}]`, now)
	seedAnalysis(t, db, userID, `[{"class_id":16,"class_name":"dog","confidence":0.8,"bbox":[0,0,1,1]}]`, now)

	stats, err := NewImageRepository(db).GetStats(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalImages)
	require.Equal(t, 2, stats.ObjectCounts["cat"])
	require.Equal(t, 1, stats.ObjectCounts["dog"])
	require.InDelta(t, 0.6, stats.AvgAccuracy, 1e-9)
}

func TestImageRepository_ExistsByPath(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	userID := newTestUser(t, db, "g@example.com")
	seedAnalysis(t, db, userID, `[]`, time.Now().UTC())

	repo := NewImageRepository(db)
	ok, err := repo.ExistsByPath(ctx, "/uploads/public/seed.jpg")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ExistsByPath(ctx, "/uploads/public/other.jpg")
	require.NoError(t, err)
	require.False(t, ok)
}

// ========================================
// User Repository Tests
// ========================================

func TestUserRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)

	id, err := repo.Create(ctx, &model.User{Email: " Someone@Example.com ", PasswordHash: "h"})
	require.NoError(t, err)

	u, err := repo.GetByEmail(ctx, "someone@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)

	_, err = repo.Create(ctx, &model.User{Email: "someone@example.com", PasswordHash: "h"})
	require.ErrorIs(t, err, repository.ErrEmailTaken)

	missing, err := repo.GetByID(ctx, 404)
	require.NoError(t, err)
	require.Nil(t, missing)
}

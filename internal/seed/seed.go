// Package seed writes the demo profiles and posts into the Postgres database
// behind a Supabase project.
//
// profiles.id usually references auth.users; seed a database where the demo
// ids exist there, or where that constraint is relaxed.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/snapshare/client/internal/fixtures"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/pkg/logger"
)

const upsertProfile = `INSERT INTO profiles (id, username, full_name, email, avatar_url, bio)
VALUES (:id, :username, :full_name, :email, :avatar_url, :bio)
ON CONFLICT (id) DO UPDATE SET
	username = EXCLUDED.username,
	full_name = EXCLUDED.full_name,
	email = EXCLUDED.email,
	avatar_url = EXCLUDED.avatar_url,
	bio = EXCLUDED.bio`

const upsertPost = `INSERT INTO posts (id, user_id, image_url, caption, likes, comments, created_at)
VALUES (:id, :user_id, :image_url, :caption, :likes, :comments, :created_at)
ON CONFLICT (id) DO UPDATE SET
	image_url = EXCLUDED.image_url,
	caption = EXCLUDED.caption,
	likes = EXCLUDED.likes,
	comments = EXCLUDED.comments,
	created_at = EXCLUDED.created_at`

type profileRow struct {
	ID        string  `db:"id"`
	Username  string  `db:"username"`
	FullName  string  `db:"full_name"`
	Email     *string `db:"email"`
	AvatarURL *string `db:"avatar_url"`
	Bio       *string `db:"bio"`
}

type postRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ImageURL  string    `db:"image_url"`
	Caption   string    `db:"caption"`
	Likes     int       `db:"likes"`
	Comments  int       `db:"comments"`
	CreatedAt time.Time `db:"created_at"`
}

// Result counts the rows written.
type Result struct {
	Profiles int
	Posts    int
}

// Seeder upserts fixtures.
type Seeder struct {
	db  *sqlx.DB
	log *logger.Logger
	now func() time.Time
}

// New creates a seeder on db.
func New(db *sqlx.DB, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.NewDefault("seed")
	}
	return &Seeder{db: db, log: log, now: time.Now}
}

// SeedFixtures upserts the bundled demo feed.
func (s *Seeder) SeedFixtures(ctx context.Context) (Result, error) {
	posts, err := fixtures.Posts()
	if err != nil {
		return Result{}, err
	}
	return s.Seed(ctx, posts)
}

// Seed upserts the authors of posts and then posts, keyed by id, in one
// transaction. Nothing is written if any row fails.
func (s *Seeder) Seed(ctx context.Context, posts []model.Post) (res Result, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.WithError(rbErr).Warn("rollback seed transaction failed")
			}
		}
	}()

	for _, author := range fixtures.Authors(posts) {
		if _, err = tx.NamedExecContext(ctx, upsertProfile, toProfileRow(author)); err != nil {
			return Result{}, fmt.Errorf("upsert profile %s: %w", author.ID, err)
		}
		res.Profiles++
	}
	for _, p := range posts {
		if _, err = tx.NamedExecContext(ctx, upsertPost, s.toPostRow(p)); err != nil {
			return Result{}, fmt.Errorf("upsert post %s: %w", p.ID, err)
		}
		res.Posts++
	}

	if err = tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit seed transaction: %w", err)
	}
	s.log.WithField("profiles", res.Profiles).WithField("posts", res.Posts).Info("fixtures seeded")
	return res, nil
}

func toProfileRow(i model.Identity) profileRow {
	row := profileRow{
		ID:        i.ID,
		Username:  i.Username,
		FullName:  i.Name,
		AvatarURL: i.AvatarURL,
		Bio:       i.Bio,
	}
	if i.Email != "" {
		row.Email = model.String(i.Email)
	}
	return row
}

func (s *Seeder) toPostRow(p model.Post) postRow {
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now().UTC()
	}
	return postRow{
		ID:        p.ID,
		UserID:    p.UserID,
		ImageURL:  p.ImageURL,
		Caption:   p.Caption,
		Likes:     p.Likes,
		Comments:  p.Comments,
		CreatedAt: created,
	}
}

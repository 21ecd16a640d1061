package curriculum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("curriculum item not found")

// Fetch assembles the ordered section/item tree for a course. A course
// without sections yields an empty tree, not an error.
func Fetch(ctx context.Context, db sqlx.ExtContext, courseID string) (Curriculum, error) {
	const qs = `SELECT * FROM sections WHERE course_id = $1 ORDER BY index`

	sections := []Section{}
	if err := sqlx.SelectContext(ctx, db, &sections, qs, courseID); err != nil {
		return Curriculum{}, fmt.Errorf("selecting sections of course[%s]: %w", courseID, err)
	}

	const qi = `SELECT * FROM items WHERE course_id = $1 ORDER BY index`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, qi, courseID); err != nil {
		return Curriculum{}, fmt.Errorf("selecting items of course[%s]: %w", courseID, err)
	}

	bySection := make(map[string][]Item)
	for _, it := range items {
		bySection[it.SectionID] = append(bySection[it.SectionID], it)
	}

	for i := range sections {
		sections[i].Items = bySection[sections[i].ID]
		if sections[i].Items == nil {
			sections[i].Items = []Item{}
		}
	}

	return Curriculum{CourseID: courseID, Sections: sections}, nil
}

func FetchItem(ctx context.Context, db sqlx.ExtContext, itemID string) (Item, error) {
	const q = `SELECT * FROM items WHERE item_id = $1`

	var it Item
	if err := sqlx.GetContext(ctx, db, &it, q, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("selecting item[%s]: %w", itemID, err)
	}

	return it, nil
}

func CreateSection(ctx context.Context, db sqlx.ExtContext, s Section) error {
	const q = `
	INSERT INTO sections (section_id, course_id, index, name, created_at, updated_at)
	VALUES (:section_id, :course_id, :index, :name, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, s); err != nil {
		return fmt.Errorf("inserting section: %w", err)
	}

	return nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO items
		(item_id, section_id, course_id, index, name, content_type, duration, free, url, created_at, updated_at)
	VALUES
		(:item_id, :section_id, :course_id, :index, :name, :content_type, :duration, :free, :url, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}

	return nil
}

func UpdateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	UPDATE items SET
		index = :index,
		name = :name,
		content_type = :content_type,
		duration = :duration,
		free = :free,
		url = :url,
		updated_at = :updated_at
	WHERE item_id = :item_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("updating item[%s]: %w", it.ID, err)
	}

	return nil
}

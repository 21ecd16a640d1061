package curriculum

import "time"

// Content types a curriculum item can carry. Only videos have a
// meaningful duration.
const (
	TypeVideo      = "video"
	TypeQuiz       = "quiz"
	TypeAssignment = "assignment"
	TypeArticle    = "article"
)

type Section struct {
	ID        string    `json:"id" db:"section_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	Index     int       `json:"index" db:"index"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Items []Item `json:"items" db:"-"`

	// Filled in by the progress merge, never stored.
	Completed         bool `json:"completed" db:"-"`
	CompletionPercent int  `json:"completionPercent" db:"-"`
}

type Item struct {
	ID          string    `json:"id" db:"item_id"`
	SectionID   string    `json:"sectionId" db:"section_id"`
	CourseID    string    `json:"courseId" db:"course_id"`
	Index       int       `json:"index" db:"index"`
	Name        string    `json:"name" db:"name"`
	ContentType string    `json:"contentType" db:"content_type"`
	Duration    int       `json:"duration" db:"duration"`
	Free        bool      `json:"free" db:"free"`
	URL         string    `json:"-" db:"url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`

	// Filled in by the progress merge, never stored.
	Completed bool `json:"completed" db:"-"`
}

// Curriculum is the ordered section/item tree for one course.
type Curriculum struct {
	CourseID string    `json:"courseId"`
	Sections []Section `json:"sections"`
}

// LectureCount is the number of completable units in the tree.
func (c Curriculum) LectureCount() int {
	n := 0
	for _, s := range c.Sections {
		n += len(s.Items)
	}
	return n
}

// FindItem locates an item and its section/item indexes within the
// tree. Returns ok=false when the id is unknown.
func (c Curriculum) FindItem(itemID string) (item Item, sectionIdx int, itemIdx int, ok bool) {
	for si, s := range c.Sections {
		for ii, it := range s.Items {
			if it.ID == itemID {
				return it, si, ii, true
			}
		}
	}
	return Item{}, 0, 0, false
}

type SectionNew struct {
	CourseID string `json:"courseId" validate:"required"`
	Index    int    `json:"index" validate:"gte=0"`
	Name     string `json:"name" validate:"required"`
}

type ItemNew struct {
	SectionID   string `json:"sectionId" validate:"required"`
	CourseID    string `json:"courseId" validate:"required"`
	Index       int    `json:"index" validate:"gte=0"`
	Name        string `json:"name" validate:"required"`
	ContentType string `json:"contentType" validate:"required,oneof=video quiz assignment article"`
	Duration    int    `json:"duration" validate:"gte=0"`
	Free        bool   `json:"free"`
	URL         string `json:"url" validate:"omitempty,url"`
}

type ItemUp struct {
	Index       *int    `json:"index" validate:"omitempty,gte=0"`
	Name        *string `json:"name"`
	ContentType *string `json:"contentType" validate:"omitempty,oneof=video quiz assignment article"`
	Duration    *int    `json:"duration" validate:"omitempty,gte=0"`
	Free        *bool   `json:"free"`
	URL         *string `json:"url" validate:"omitempty,url"`
}

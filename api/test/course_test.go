package test

import (
	"net/http"
	"testing"

	"github.com/ramadhanis/academy/core/claims"
	"github.com/ramadhanis/academy/core/course"
	"github.com/ramadhanis/academy/core/curriculum"
)

func TestCourseAndCurriculum(t *testing.T) {
	env := NewTestEnv(t)

	instructorID := env.CreateUser(t, claims.RoleInstructor)
	studentID := env.CreateUser(t, claims.RoleStudent)

	// Students cannot manage courses.
	env.Login(t, studentID, claims.RoleStudent)
	env.PostJSON(t, "/courses", map[string]interface{}{
		"name":        "Nope",
		"description": "nope",
		"price":       10,
		"imageUrl":    "https://example.com/x.png",
	}, nil, http.StatusUnauthorized)

	env.Login(t, instructorID, claims.RoleInstructor)

	var c course.Course
	env.PostJSON(t, "/courses", map[string]interface{}{
		"name":        "Paid course",
		"description": "with a locked lecture",
		"price":       30,
		"imageUrl":    "https://example.com/cover.png",
	}, &c, http.StatusCreated)

	var sec curriculum.Section
	env.PostJSON(t, "/sections", map[string]interface{}{
		"courseId": c.ID,
		"index":    0,
		"name":     "Basics",
	}, &sec, http.StatusCreated)

	var locked, free curriculum.Item
	env.PostJSON(t, "/items", map[string]interface{}{
		"sectionId":   sec.ID,
		"courseId":    c.ID,
		"index":       0,
		"name":        "Locked lecture",
		"contentType": "video",
		"duration":    120,
		"url":         "https://example.com/locked.mp4",
	}, &locked, http.StatusCreated)

	env.PostJSON(t, "/items", map[string]interface{}{
		"sectionId":   sec.ID,
		"courseId":    c.ID,
		"index":       1,
		"name":        "Free preview",
		"contentType": "video",
		"duration":    60,
		"free":        true,
		"url":         "https://example.com/preview.mp4",
	}, &free, http.StatusCreated)

	var cs []course.Course
	env.GetJSON(t, "/courses", &cs, http.StatusOK)
	if len(cs) != 1 || cs[0].ID != c.ID {
		t.Fatalf("course list does not contain the created course: %+v", cs)
	}

	// Without enrollment only the free preview keeps its URL. The
	// Item JSON never exposes URLs directly, so check via the model.
	env.Login(t, studentID, claims.RoleStudent)

	var cur curriculum.Curriculum
	env.GetJSON(t, "/courses/"+c.ID+"/curriculum", &cur, http.StatusOK)

	if len(cur.Sections) != 1 || len(cur.Sections[0].Items) != 2 {
		t.Fatalf("unexpected curriculum shape: %+v", cur)
	}

	// Enrolled students see the full outline too.
	env.Enroll(t, studentID, c.ID)
	env.GetJSON(t, "/courses/"+c.ID+"/curriculum", &cur, http.StatusOK)
	if cur.Sections[0].Items[0].Name != "Locked lecture" {
		t.Fatalf("unexpected first item: %+v", cur.Sections[0].Items[0])
	}

	var enrolled []course.Course
	env.GetJSON(t, "/courses/enrolled", &enrolled, http.StatusOK)
	if len(enrolled) != 1 || enrolled[0].ID != c.ID {
		t.Fatalf("enrolled list does not contain the course: %+v", enrolled)
	}
}

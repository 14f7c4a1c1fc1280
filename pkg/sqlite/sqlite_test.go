package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rtemka/lumina/domain"
)

var tdb *SQLite

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func restoreDB(tdb *SQLite) error {
	if err := tdb.RunFile(filepath.Join("testdata", "t.sql")); err != nil {
		return err
	}
	return tdb.Migrate(context.Background())
}

func TestMain(m *testing.M) {

	var err error
	tdb, err = New("file:test.db?cache=shared&mode=memory&_fk=on")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := restoreDB(tdb); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func mustUser(t *testing.T, id, name string) domain.User {
	t.Helper()
	u := domain.User{
		ID: id, Username: name, Email: name + "@example.com",
		PasswordHash: "hash", CreatedAt: t0, UpdatedAt: t0,
	}
	if err := tdb.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("CreateUser() = err %v", err)
	}
	return u
}

func mustPost(t *testing.T, p domain.Post) domain.Post {
	t.Helper()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if err := tdb.CreatePost(context.Background(), &p); err != nil {
		t.Fatalf("CreatePost() = err %v", err)
	}
	return p
}

func mustComment(t *testing.T, c domain.Comment) domain.Comment {
	t.Helper()
	if err := tdb.CreateComment(context.Background(), &c); err != nil {
		t.Fatalf("CreateComment() = err %v", err)
	}
	return c
}

func ids[T interface{ domain.Post | domain.Comment }](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := any(it).(type) {
		case domain.Post:
			out = append(out, v.ID)
		case domain.Comment:
			out = append(out, v.ID)
		}
	}
	return out
}

func TestSQLite_Users(t *testing.T) {
	if tdb == nil {
		t.Skip("you must open connection to SQLite DB to run this test")
	}
	ctx := context.Background()

	u := mustUser(t, "u-users-1", "alice")

	dup := u
	dup.ID = "u-users-2"
	if err := tdb.CreateUser(ctx, &dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("CreateUser() = err %v, want %v", err, domain.ErrDuplicate)
	}

	got, err := tdb.UserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("UserByEmail() = err %v", err)
	}
	if !reflect.DeepEqual(got, u) {
		t.Errorf("UserByEmail() = %v, want %v", got, u)
	}

	if _, err := tdb.UserByUsername(ctx, "nobody"); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("UserByUsername() = err %v, want %v", err, domain.ErrNoRows)
	}

	u.Username = "alice2"
	u.Avatar = "http://x/a.png"
	u.UpdatedAt = at(1)
	if err := tdb.UpdateUser(ctx, &u); err != nil {
		t.Fatalf("UpdateUser() = err %v", err)
	}
	got, err = tdb.User(ctx, u.ID)
	if err != nil {
		t.Fatalf("User() = err %v", err)
	}
	if got.Username != "alice2" || got.Avatar != "http://x/a.png" || !got.UpdatedAt.Equal(at(1)) {
		t.Errorf("User() = %v after update", got)
	}

	other := mustUser(t, "u-users-3", "bob")
	other.Username = "alice2"
	if err := tdb.UpdateUser(ctx, &other); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("UpdateUser() = err %v, want %v", err, domain.ErrDuplicate)
	}
}

func TestSQLite_Posts(t *testing.T) {
	if tdb == nil {
		t.Skip("you must open connection to SQLite DB to run this test")
	}
	ctx := context.Background()

	a := mustUser(t, "u-posts-1", "writer")

	p1 := mustPost(t, domain.Post{ID: "p-posts-1", Title: "Первый пост", Content: "<p>one</p>",
		Author: a.Public(), Tags: []string{"go", "web"}, Likes: []string{}, CreatedAt: at(1)})
	p2 := mustPost(t, domain.Post{ID: "p-posts-2", Title: "Second post", Content: "<p>two</p>",
		Author: a.Public(), Tags: []string{"rust"}, Likes: []string{}, CreatedAt: at(2)})
	p3 := mustPost(t, domain.Post{ID: "p-posts-3", Title: "Third", Content: "<p>three</p>",
		Author: a.Public(), Tags: []string{"web"}, Likes: []string{}, CreatedAt: at(3)})

	got, err := tdb.Post(ctx, p1.ID)
	if err != nil {
		t.Fatalf("Post() = err %v", err)
	}
	if got.Author != a.Public() || !reflect.DeepEqual(got.Tags, p1.Tags) || !got.CreatedAt.Equal(p1.CreatedAt) {
		t.Errorf("Post() = %v, want %v", got, p1)
	}

	if _, err := tdb.Post(ctx, "missing"); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("Post() = err %v, want %v", err, domain.ErrNoRows)
	}

	tests := []struct {
		name   string
		filter domain.PostFilter
		want   []string
		total  int
	}{
		{name: "all_newest_first", filter: domain.PostFilter{Page: 1, Limit: 10},
			want: []string{p3.ID, p2.ID, p1.ID}, total: 3},
		{name: "paging", filter: domain.PostFilter{Page: 2, Limit: 2},
			want: []string{p1.ID}, total: 3},
		{name: "search_case_insensitive", filter: domain.PostFilter{Page: 1, Limit: 10, Search: "ПЕРВЫЙ"},
			want: []string{p1.ID}, total: 1},
		{name: "tags_any", filter: domain.PostFilter{Page: 1, Limit: 10, Tags: []string{"web", "rust"}},
			want: []string{p3.ID, p2.ID, p1.ID}, total: 3},
		{name: "tag_and_search", filter: domain.PostFilter{Page: 1, Limit: 10, Search: "t", Tags: []string{"web"}},
			want: []string{p3.ID}, total: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, err := tdb.Posts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Posts() = err %v", err)
			}
			if !reflect.DeepEqual(ids(posts), tt.want) {
				t.Errorf("Posts() = %v, want %v", ids(posts), tt.want)
			}
			n, err := tdb.CountPosts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("CountPosts() = err %v", err)
			}
			if n != tt.total {
				t.Errorf("CountPosts() = %d, want %d", n, tt.total)
			}
		})
	}

	if err := tdb.SetLikes(ctx, p2.ID, []string{"x", "y"}); err != nil {
		t.Fatalf("SetLikes() = err %v", err)
	}
	p2.Title = "Second post edited"
	p2.Tags = []string{"go"}
	p2.UpdatedAt = at(10)
	if err := tdb.UpdatePost(ctx, &p2); err != nil {
		t.Fatalf("UpdatePost() = err %v", err)
	}
	got, err = tdb.Post(ctx, p2.ID)
	if err != nil {
		t.Fatalf("Post() = err %v", err)
	}
	if got.Title != p2.Title || !reflect.DeepEqual(got.Tags, []string{"go"}) ||
		!reflect.DeepEqual(got.Likes, []string{"x", "y"}) {
		t.Errorf("Post() = %v after update", got)
	}

	byAuthor, err := tdb.PostsByAuthor(ctx, a.ID)
	if err != nil {
		t.Fatalf("PostsByAuthor() = err %v", err)
	}
	if !reflect.DeepEqual(ids(byAuthor), []string{p3.ID, p2.ID, p1.ID}) {
		t.Errorf("PostsByAuthor() = %v", ids(byAuthor))
	}

	// удаление поста удаляет комментарии
	c := mustComment(t, domain.Comment{ID: "c-posts-1", PostID: p3.ID, Content: "hi",
		Author: a.Public(), ReadBy: []string{}, CreatedAt: at(4)})
	if err := tdb.DeletePost(ctx, p3.ID); err != nil {
		t.Fatalf("DeletePost() = err %v", err)
	}
	if _, err := tdb.Comment(ctx, c.ID); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("Comment() = err %v, want %v", err, domain.ErrNoRows)
	}
	if err := tdb.DeletePost(ctx, p3.ID); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("DeletePost() = err %v, want %v", err, domain.ErrNoRows)
	}
}

func TestSQLite_Comments(t *testing.T) {
	if tdb == nil {
		t.Skip("you must open connection to SQLite DB to run this test")
	}
	ctx := context.Background()

	owner := mustUser(t, "u-comm-1", "owner")
	reader := mustUser(t, "u-comm-2", "reader")

	p := mustPost(t, domain.Post{ID: "p-comm-1", Title: "Post", Content: "content",
		Author: owner.Public(), CreatedAt: at(1)})
	empty := mustPost(t, domain.Post{ID: "p-comm-2", Title: "Empty", Content: "content",
		Author: owner.Public(), CreatedAt: at(2)})

	c1 := mustComment(t, domain.Comment{ID: "c-comm-1", PostID: p.ID, Content: "first",
		Author: reader.Public(), CreatedAt: at(2)})
	c2 := mustComment(t, domain.Comment{ID: "c-comm-2", PostID: p.ID, ParentID: c1.ID, Content: "reply",
		Author: owner.Public(), IsOwnerReply: true, CreatedAt: at(3)})
	c3 := mustComment(t, domain.Comment{ID: "c-comm-3", PostID: p.ID, Content: "second",
		Author: reader.Public(), CreatedAt: at(4)})

	if err := tdb.CreateComment(ctx, &domain.Comment{ID: "c-comm-x", PostID: "missing",
		Author: reader.Public(), CreatedAt: at(5)}); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("CreateComment() = err %v, want %v", err, domain.ErrNoRows)
	}

	got, err := tdb.Comments(ctx, p.ID)
	if err != nil {
		t.Fatalf("Comments() = err %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{c3.ID, c2.ID, c1.ID}) {
		t.Errorf("Comments() = %v", ids(got))
	}
	if got[1].Author != owner.Public() || !got[1].IsOwnerReply || got[1].ParentID != c1.ID {
		t.Errorf("Comments() = %v, want %v", got[1], c2)
	}

	counts, err := tdb.CountVisible(ctx, []string{p.ID, empty.ID})
	if err != nil {
		t.Fatalf("CountVisible() = err %v", err)
	}
	if counts[p.ID] != 2 || counts[empty.ID] != 0 {
		t.Errorf("CountVisible() = %v", counts)
	}

	unread, err := tdb.Unread(ctx, []string{p.ID, empty.ID}, owner.ID, 10)
	if err != nil {
		t.Fatalf("Unread() = err %v", err)
	}
	if !reflect.DeepEqual(ids(unread), []string{c3.ID, c1.ID}) {
		t.Errorf("Unread() = %v", ids(unread))
	}

	// повторная отметка ничего не меняет
	for i := 0; i < 2; i++ {
		if err := tdb.AddReader(ctx, c1.ID, owner.ID); err != nil {
			t.Fatalf("AddReader() = err %v", err)
		}
	}
	com, err := tdb.Comment(ctx, c1.ID)
	if err != nil {
		t.Fatalf("Comment() = err %v", err)
	}
	if !reflect.DeepEqual(com.ReadBy, []string{owner.ID}) {
		t.Errorf("Comment().ReadBy = %v, want %v", com.ReadBy, []string{owner.ID})
	}

	unread, err = tdb.Unread(ctx, []string{p.ID}, owner.ID, 1)
	if err != nil {
		t.Fatalf("Unread() = err %v", err)
	}
	if !reflect.DeepEqual(ids(unread), []string{c3.ID}) {
		t.Errorf("Unread() = %v", ids(unread))
	}

	if err := tdb.AddReader(ctx, "missing", owner.ID); !errors.Is(err, domain.ErrNoRows) {
		t.Errorf("AddReader() = err %v, want %v", err, domain.ErrNoRows)
	}
}

func TestSQLite_OwnerReplyAfterReassign(t *testing.T) {
	if tdb == nil {
		t.Skip("you must open connection to SQLite DB to run this test")
	}
	ctx := context.Background()

	owner := mustUser(t, "u-reas-1", "reas-owner")
	reader := mustUser(t, "u-reas-2", "reas-reader")

	p := mustPost(t, domain.Post{ID: "p-reas-1", Title: "Post", Content: "content",
		Author: owner.Public(), CreatedAt: at(1)})
	c1 := mustComment(t, domain.Comment{ID: "c-reas-1", PostID: p.ID, Content: "question",
		Author: reader.Public(), CreatedAt: at(2)})
	c2 := mustComment(t, domain.Comment{ID: "c-reas-2", PostID: p.ID, ParentID: c1.ID, Content: "answer",
		Author: owner.Public(), IsOwnerReply: true, CreatedAt: at(3)})

	_, err := tdb.DB.ExecContext(ctx, `UPDATE posts SET author_id = ? WHERE id = ?;`, reader.ID, p.ID)
	if err != nil {
		t.Fatalf("UPDATE posts = err %v", err)
	}
	if got, err := tdb.Post(ctx, p.ID); err != nil || got.Author.ID != reader.ID {
		t.Fatalf("Post() = %v, err %v, want author %s", got.Author, err, reader.ID)
	}

	coms, err := tdb.Comments(ctx, p.ID)
	if err != nil {
		t.Fatalf("Comments() = err %v", err)
	}
	tree := domain.ToTree(coms)
	if len(tree) != 1 || len(tree[0].Replies) != 1 {
		t.Fatalf("ToTree() = %+v", tree)
	}
	if r := tree[0].Replies[0]; r.ID != c2.ID || !r.IsOwnerReply {
		t.Errorf("reply = %+v, want is_owner_reply kept", r)
	}
	if n := domain.VisibleCount(tree); n != 1 {
		t.Errorf("VisibleCount() = %d, want %d", n, 1)
	}

	counts, err := tdb.CountVisible(ctx, []string{p.ID})
	if err != nil {
		t.Fatalf("CountVisible() = err %v", err)
	}
	if counts[p.ID] != 1 {
		t.Errorf("CountVisible() = %v, want %d", counts, 1)
	}
}

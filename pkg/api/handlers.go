package api

import (
	"context"
	"net/http"

	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/service"
)

func (api *API) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		s, err := api.svc.Register(ctx, service.Registration{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, s, http.StatusCreated)
	}
}

func (api *API) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		s, err := api.svc.Login(ctx, req.Email, req.Password)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, s, http.StatusOK)
	}
}

func (api *API) handlePostList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page", 1)
		if err != nil {
			api.fail(w, err)
			return
		}
		limit, err := queryInt(r, "limit", service.DefaultPageSize)
		if err != nil {
			api.fail(w, err)
			return
		}
		q := r.URL.Query()
		f := domain.PostFilter{
			Page:   page,
			Limit:  limit,
			Search: q.Get("search"),
			Tags:   parseTags(append(q["tag"], q["tags"]...)...),
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		list, err := api.svc.ListPosts(ctx, f)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, list, http.StatusOK)
	}
}

func (api *API) handlePostCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readPost(w, r)
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		p, err := api.svc.CreatePost(ctx, service.NewPost{
			AuthorID: requester(r),
			Title:    req.Title,
			Content:  req.Content,
			Tags:     req.Tags,
			Cover:    req.cover,
		})
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, p, http.StatusCreated)
	}
}

func (api *API) handlePostRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		p, err := api.svc.GetPost(ctx, id)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, p, http.StatusOK)
	}
}

func (api *API) handlePostUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}
		req, err := readPost(w, r)
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		p, err := api.svc.UpdatePost(ctx, service.PostUpdate{
			PostID:      id,
			RequesterID: requester(r),
			Title:       req.Title,
			Content:     req.Content,
			Tags:        req.Tags,
			Cover:       req.cover,
		})
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, p, http.StatusOK)
	}
}

func (api *API) handlePostDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		if err := api.svc.DeletePost(ctx, id, requester(r)); err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, map[string]string{"id": id}, http.StatusOK)
	}
}

func (api *API) handlePostLike() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		st, err := api.svc.ToggleLike(ctx, id, requester(r))
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, st, http.StatusOK)
	}
}

func (api *API) handleCommentList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		threads, err := api.svc.ListCommentsForPost(ctx, id)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, threads, http.StatusOK)
	}
}

func (api *API) handleCommentCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}
		var req commentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		c, err := api.svc.AddComment(ctx, id, requester(r), req.Content, req.parent())
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, c, http.StatusCreated)
	}
}

func (api *API) handleCommentRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}
		commentID, err := pathID(r, "commentId")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		st, err := api.svc.MarkCommentAsRead(ctx, postID, commentID, requester(r))
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, st, http.StatusOK)
	}
}

func (api *API) handleProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		p, err := api.svc.Profile(ctx, id)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, p, http.StatusOK)
	}
}

func (api *API) handleProfileUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}
		if id != requester(r) {
			api.fail(w, domain.ErrNotYourProfile)
			return
		}
		req, err := readProfile(w, r)
		if err != nil {
			api.fail(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		u, err := api.svc.UpdateProfile(ctx, service.ProfileUpdate{
			UserID:   id,
			Username: req.Username,
			Avatar:   req.avatar,
		})
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, u, http.StatusOK)
	}
}

func (api *API) handleNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			api.fail(w, err)
			return
		}
		if id != requester(r) {
			api.fail(w, domain.ErrNotYourFeed)
			return
		}
		// явно переданный limit=0 дает ленту из одного элемента
		limit, err := queryInt(r, "limit", service.DefaultNotificationLimit)
		if err != nil {
			api.fail(w, err)
			return
		}
		if limit < 1 {
			limit = 1
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		feed, err := api.svc.UnreadReplyNotifications(ctx, id, limit)
		if err != nil {
			api.fail(w, err)
			return
		}
		api.WriteJSON(w, feed, http.StatusOK)
	}
}

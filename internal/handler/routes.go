package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/service"
)

// API groups the handlers of the authenticated surface.
type API struct {
	Chats    *ChatHandler
	Messages *MessageHandler
	Users    *UserHandler
	Admin    *AdminHandler
}

func NewAPI(core *service.Core) *API {
	return &API{
		Chats:    NewChatHandler(core.Directory),
		Messages: NewMessageHandler(core.Messages, core.Reads),
		Users:    NewUserHandler(core.Accounts),
		Admin:    NewAdminHandler(core.Moderation),
	}
}

// Mount registers the routes on r; identity middleware must already be applied.
func (a *API) Mount(r chi.Router) {
	r.Get("/api/users/me", a.Users.GetProfile)
	r.Put("/api/users/me/online", a.Users.SetOnline)

	r.Get("/api/chats", a.Chats.ListChats)
	r.Post("/api/chats", a.Chats.CreateChat)
	r.Post("/api/chats/direct", a.Chats.GetOrCreateDirect)
	r.Get("/api/rooms", a.Chats.ListRooms)
	r.Get("/api/chats/{id}", a.Chats.GetChat)
	r.Post("/api/chats/{id}/members", a.Chats.AddMember)
	r.Delete("/api/chats/{id}/members/{userId}", a.Chats.RemoveMember)

	r.Get("/api/chats/{id}/messages", a.Messages.GetMessages)
	r.Post("/api/chats/{id}/messages", a.Messages.SendMessage)
	r.Post("/api/chats/{id}/read", a.Messages.MarkRead)
	r.Get("/api/chats/{id}/unread", a.Messages.UnreadCount)
	r.Get("/api/messages/search", a.Messages.SearchMessages)
	r.Put("/api/messages/{id}", a.Messages.EditMessage)
	r.Delete("/api/messages/{id}", a.Messages.DeleteMessage)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/users/{id}/ban", a.Admin.BanUser)
		r.Post("/users/{id}/restrict", a.Admin.RestrictUser)
		r.Delete("/users/{id}/moderation", a.Admin.ClearModeration)
		r.Put("/users/{id}/role", a.Admin.SetRole)
		r.Delete("/users/{id}", a.Admin.DeleteUser)
		r.Delete("/chats/{id}", a.Admin.DeleteChat)
		r.Delete("/messages/{id}", a.Admin.DeleteMessage)
	})
}

// Package cli implements the NEUROBOT terminal client: a line-oriented REPL over the
// chat session store and the server API.
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ashureev/neurobot/internal/chatstore"
	"github.com/ashureev/neurobot/internal/client"
	"github.com/ashureev/neurobot/internal/domain"
)

// ProcessingPlaceholder is shown while an image is being analyzed.
const ProcessingPlaceholder = "*уже смотрю...*"

// API is the part of the server API the REPL uses.
type API interface {
	Chat(ctx context.Context, chat domain.Chat, messages []domain.Message) (string, error)
	AnalyzeImage(ctx context.Context, req client.ImageRequest) (string, error)
	PullState(ctx context.Context) ([]byte, error)
	PushState(ctx context.Context, blob []byte) (int, error)
}

// Session executes REPL lines against a chat store.
type Session struct {
	store    *chatstore.Store
	api      API
	out      io.Writer
	toast    *Toaster
	render   *Renderer
	readFile func(string) ([]byte, error)
}

// NewSession creates a Session. toast should be the notifier the store was built with.
func NewSession(store *chatstore.Store, api API, out io.Writer, toast *Toaster, render *Renderer) *Session {
	return &Session{
		store:    store,
		api:      api,
		out:      out,
		toast:    toast,
		render:   render,
		readFile: os.ReadFile,
	}
}

// Handle executes one input line. It returns false when the user asked to quit.
func (s *Session) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return true
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return false
	case "/help", "/?":
		s.printHelp()
	case "/new":
		s.newChat(rest)
	case "/list", "/ls":
		s.list()
	case "/switch":
		s.switchChat(rest)
	case "/delete", "/rm":
		s.deleteChat(rest)
	case "/rename":
		s.rename(rest)
	case "/image":
		s.image(ctx, rest)
	case "/push":
		s.push(ctx)
	case "/pull":
		s.pull(ctx)
	default:
		s.toast.Error("Ошибка", fmt.Sprintf("неизвестная команда %s, /help для списка", cmd))
	}
	return true
}

// Prompt returns the prompt label for the active chat.
func (s *Session) Prompt() string {
	chat, ok := s.store.ActiveChat()
	if !ok {
		return "neurobot> "
	}
	return fmt.Sprintf("%s> ", chat.Title)
}

// ShowActive prints the active chat and its visible messages.
func (s *Session) ShowActive() {
	chat, ok := s.store.ActiveChat()
	if !ok {
		fmt.Fprintln(s.out, infoStyle.Render("Нет активного чата. /new чтобы начать."))
		return
	}
	fmt.Fprintln(s.out, titleStyle.Render(chat.Title))
	if chat.Subtitle != "" {
		fmt.Fprintln(s.out, infoStyle.Render(chat.Subtitle))
	}
	for _, m := range s.store.Messages() {
		s.printMessage(m)
	}
}

func (s *Session) send(ctx context.Context, text string) {
	if _, ok := s.store.ActiveChat(); !ok {
		s.store.EnsureChat(domain.ChatTypeChat)
	}
	chat, _ := s.store.ActiveChat()

	s.store.AppendMessage(domain.Message{Role: domain.RoleUser, Content: text})

	reply, err := s.api.Chat(ctx, chat, s.store.Messages())
	if err != nil {
		s.toast.Error("Ошибка", errorText(err, "Произошла ошибка при отправке сообщения"))
		return
	}

	msg := s.store.AppendMessage(domain.Message{Role: domain.RoleAssistant, Content: reply})
	s.printMessage(msg)
}

func (s *Session) image(ctx context.Context, args string) {
	src, prompt, _ := strings.Cut(args, " ")
	if src == "" {
		s.toast.Error("Ошибка", "использование: /image <путь|url> [вопрос]")
		return
	}

	req := client.ImageRequest{Prompt: strings.TrimSpace(prompt)}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req.URL = src
	} else {
		data, err := s.readFile(src)
		if err != nil {
			s.toast.Error("Ошибка анализа изображения", "Ошибка чтения файла")
			return
		}
		req.Data = base64.StdEncoding.EncodeToString(data)
	}

	if _, ok := s.store.ActiveChat(); !ok {
		s.store.EnsureChat(domain.ChatTypeChat)
	}
	placeholder := s.store.AppendMessage(domain.Message{Role: domain.RoleSystem, Content: ProcessingPlaceholder})
	s.printMessage(placeholder)

	text, err := s.api.AnalyzeImage(ctx, req)
	s.store.RemoveMessage(placeholder.ID)
	if err != nil {
		s.toast.Error("Ошибка анализа изображения", errorText(err, "Произошла неизвестная ошибка"))
		return
	}
	if text == "" {
		s.toast.Notify("Анализ изображения", "Не удалось получить описание изображения.")
		return
	}

	msg := s.store.AppendMessage(domain.Message{Role: domain.RoleAssistant, Content: text})
	s.printMessage(msg)
}

func (s *Session) newChat(arg string) {
	chatType := domain.ChatTypeChat
	if arg != "" {
		chatType = domain.ParseChatType(arg)
	}
	s.store.CreateNewChat(chatType)
	s.ShowActive()
}

func (s *Session) list() {
	chats := s.store.Chats()
	if len(chats) == 0 {
		fmt.Fprintln(s.out, infoStyle.Render("Чатов пока нет."))
		return
	}
	active := s.store.ActiveChatID()
	for i, c := range chats {
		marker := " "
		title := c.Title
		if c.ID == active {
			marker = activeStyle.Render("*")
			title = activeStyle.Render(title)
		}
		fmt.Fprintf(s.out, "%s %2d. %s %s\n", marker, i+1, title,
			infoStyle.Render(fmt.Sprintf("[%s, %d сообщ., %s]", c.Type, len(c.Messages), shortID(c.ID))))
	}
}

func (s *Session) switchChat(ref string) {
	id, ok := s.resolve(ref)
	if !ok {
		return
	}
	if err := s.store.SwitchChat(id); err != nil {
		s.toast.Error("Ошибка", err.Error())
		return
	}
	s.ShowActive()
}

func (s *Session) deleteChat(ref string) {
	id, ok := s.resolve(ref)
	if !ok {
		return
	}
	if err := s.store.DeleteChat(id); err != nil {
		s.toast.Error("Ошибка", err.Error())
	}
}

func (s *Session) rename(args string) {
	ref, title, _ := strings.Cut(args, " ")
	if strings.TrimSpace(title) == "" {
		s.toast.Error("Ошибка", "использование: /rename <id|#> <название>")
		return
	}
	id, ok := s.resolve(ref)
	if !ok {
		return
	}
	if err := s.store.RenameChat(id, title); err != nil {
		s.toast.Error("Ошибка", err.Error())
	}
}

func (s *Session) push(ctx context.Context) {
	blob, err := chatstore.Encode(s.store.Snapshot())
	if err != nil {
		s.toast.Error("Ошибка синхронизации", err.Error())
		return
	}
	n, err := s.api.PushState(ctx, blob)
	if err != nil {
		s.toast.Error("Ошибка синхронизации", errorText(err, "не удалось отправить чаты"))
		return
	}
	s.toast.Notify("Синхронизация", fmt.Sprintf("на сервере сохранено чатов: %d", n))
}

func (s *Session) pull(ctx context.Context) {
	blob, err := s.api.PullState(ctx)
	if errors.Is(err, client.ErrNoState) {
		s.toast.Notify("Синхронизация", "на сервере нет сохранённых чатов")
		return
	}
	if err != nil {
		s.toast.Error("Ошибка синхронизации", errorText(err, "не удалось загрузить чаты"))
		return
	}
	snap, err := chatstore.Decode(blob, nil)
	if err != nil {
		s.toast.Error("Ошибка синхронизации", err.Error())
		return
	}
	s.store.Replace(snap)
	s.toast.Notify("Синхронизация", fmt.Sprintf("загружено чатов: %d", len(snap.Chats)))
	s.ShowActive()
}

// resolve maps a 1-based list position or a chat id (or unique id prefix) to a chat id.
func (s *Session) resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		s.toast.Error("Ошибка", "укажите номер или id чата")
		return "", false
	}

	chats := s.store.Chats()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(chats) {
		return chats[n-1].ID, true
	}

	match := ""
	for _, c := range chats {
		if c.ID == ref {
			return c.ID, true
		}
		if strings.HasPrefix(c.ID, ref) {
			if match != "" {
				s.toast.Error("Ошибка", fmt.Sprintf("id %q неоднозначен", ref))
				return "", false
			}
			match = c.ID
		}
	}
	if match == "" {
		s.toast.Error("Ошибка", fmt.Sprintf("%v: %s", chatstore.ErrChatNotFound, ref))
		return "", false
	}
	return match, true
}

func (s *Session) printMessage(m domain.Message) {
	switch m.Role.Normalize() {
	case domain.RoleUser:
		fmt.Fprintf(s.out, "%s %s\n", userStyle.Render("Вы:"), m.Content)
	case domain.RoleSystem:
		fmt.Fprintln(s.out, infoStyle.Render(m.Content))
	default:
		fmt.Fprintln(s.out, assistantStyle.Render("NEUROBOT:"))
		fmt.Fprint(s.out, s.render.Render(m.Content))
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, titleStyle.Render("Команды"))
	for _, line := range helpLines {
		fmt.Fprintf(s.out, "  %-28s %s\n", line[0], infoStyle.Render(line[1]))
	}
}

var helpLines = [][2]string{
	{"/new [chat|smm|analysis]", "новый чат"},
	{"/list", "список чатов"},
	{"/switch <#|id>", "переключиться на чат"},
	{"/delete <#|id>", "удалить чат"},
	{"/rename <#|id> <название>", "переименовать чат"},
	{"/image <путь|url> [вопрос]", "описать изображение"},
	{"/push", "отправить чаты на сервер"},
	{"/pull", "загрузить чаты с сервера"},
	{"/help", "эта справка"},
	{"/quit", "выход"},
}

// commandNames feeds tab completion.
func commandNames() []string {
	names := make([]string, 0, len(helpLines))
	for _, l := range helpLines {
		name, _, _ := strings.Cut(l[0], " ")
		names = append(names, name)
	}
	return names
}

func errorText(err error, fallback string) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) {
		return "запрос отменён"
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Package telegram implements the platform adapter for Telegram on top
// of the Bot API client.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// Adapter speaks Telegram for one bot token.
//
// Telegram has no standalone upload endpoint, so UploadMedia sends the
// file to a configured storage chat and returns the file id Telegram
// assigns; the message in the storage chat is the price of admission.
type Adapter struct {
	bot          *tgbotapi.BotAPI
	uploadChatID int64
	logger       *zap.Logger
}

// New builds an adapter from a bot token. uploadChatID may be zero when
// the bot never uploads media.
func New(token string, uploadChatID int64, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, classify(err)
	}
	return &Adapter{
		bot:          bot,
		uploadChatID: uploadChatID,
		logger:       logger.With(zap.String("component", "telegram-adapter")),
	}, nil
}

func (a *Adapter) Name() platform.Name { return platform.Telegram }

// ParseEvent maps a raw Telegram update onto the neutral event model.
// It never fails: anything unrecognized is EventUnknown.
func (a *Adapter) ParseEvent(raw []byte) platform.Event {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return platform.Event{Kind: platform.EventUnknown}
	}

	ev := platform.Event{
		Kind:     platform.EventUnknown,
		UpdateID: strconv.Itoa(update.UpdateID),
	}

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil {
			return ev
		}
		ev.Kind = platform.EventButton
		ev.ChatID = strconv.FormatInt(cb.Message.Chat.ID, 10)
		ev.Value = cb.Data
		ev.CallbackID = cb.ID

	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil {
			return ev
		}
		ev.ChatID = strconv.FormatInt(msg.Chat.ID, 10)
		text := msg.Text
		if strings.HasPrefix(text, "/") {
			cmd, args := splitCommand(text)
			ev.Kind = platform.EventCommand
			ev.Command = cmd
			ev.Args = args
		} else if text != "" {
			ev.Kind = platform.EventText
			ev.Text = text
		}
	}

	return ev
}

// splitCommand parses "/start@MyBot some args" into ("start", "some args").
func splitCommand(text string) (string, string) {
	rest := strings.TrimPrefix(text, "/")
	cmd := rest
	args := ""
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		cmd = rest[:i]
		args = strings.TrimSpace(rest[i+1:])
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), args
}

// AckCallback answers a callback query so the client stops showing the
// button spinner. The answer carries no text.
func (a *Adapter) AckCallback(_ context.Context, callbackID string) error {
	if _, err := a.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) SendText(_ context.Context, chatID, text string, buttons []entity.Button) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}

	msg := tgbotapi.NewMessage(id, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(buttons)
	}

	sent, err := a.bot.Send(msg)
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendMedia delivers items in input order. A single item goes out as its
// native message type with the caption and buttons attached; multiple
// items go out as an album (Telegram albums cannot carry buttons, so the
// caption rides the first item and buttons follow as a separate message).
func (a *Adapter) SendMedia(ctx context.Context, chatID string, items []platform.OutMedia, caption string, buttons []entity.Button) ([]string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.NewInvalidInput("no media items to send")
	}

	if len(items) == 1 {
		msgID, err := a.sendSingle(id, items[0], caption, buttons)
		if err != nil {
			return nil, &platform.MediaGroupError{Index: 0, Err: err}
		}
		return []string{msgID}, nil
	}

	group := make([]interface{}, 0, len(items))
	for i, item := range items {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		media := inputMedia(item, itemCaption)
		if media == nil {
			return nil, &platform.MediaGroupError{
				Index: i,
				Err:   apperrors.NewInvalidInput(fmt.Sprintf("unsupported media type %q", item.Type)),
			}
		}
		group = append(group, media)
	}

	sent, err := a.bot.SendMediaGroup(tgbotapi.NewMediaGroup(id, group))
	if err != nil {
		// Telegram rejects albums atomically; nothing was delivered.
		return nil, &platform.MediaGroupError{Index: 0, Err: classify(err)}
	}

	ids := make([]string, 0, len(sent)+1)
	for _, m := range sent {
		ids = append(ids, strconv.Itoa(m.MessageID))
	}

	if len(buttons) > 0 {
		// Albums cannot carry an inline keyboard; attach it to a trailer.
		followup := tgbotapi.NewMessage(id, "Choose an option:")
		followup.ReplyMarkup = inlineKeyboard(buttons)
		m, err := a.bot.Send(followup)
		if err != nil {
			return ids, classify(err)
		}
		ids = append(ids, strconv.Itoa(m.MessageID))
	}

	return ids, nil
}

func (a *Adapter) sendSingle(chatID int64, item platform.OutMedia, caption string, buttons []entity.Button) (string, error) {
	file := requestFile(item)

	var msg tgbotapi.Chattable
	switch item.Type {
	case "image":
		c := tgbotapi.NewPhoto(chatID, file)
		c.Caption = caption
		if len(buttons) > 0 {
			c.ReplyMarkup = inlineKeyboard(buttons)
		}
		msg = c
	case "video":
		c := tgbotapi.NewVideo(chatID, file)
		c.Caption = caption
		if len(buttons) > 0 {
			c.ReplyMarkup = inlineKeyboard(buttons)
		}
		msg = c
	case "audio":
		c := tgbotapi.NewAudio(chatID, file)
		c.Caption = caption
		if len(buttons) > 0 {
			c.ReplyMarkup = inlineKeyboard(buttons)
		}
		msg = c
	case "document":
		c := tgbotapi.NewDocument(chatID, file)
		c.Caption = caption
		if len(buttons) > 0 {
			c.ReplyMarkup = inlineKeyboard(buttons)
		}
		msg = c
	default:
		return "", apperrors.NewInvalidInput(fmt.Sprintf("unsupported media type %q", item.Type))
	}

	sent, err := a.bot.Send(msg)
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// UploadMedia pushes bytes through the storage chat and returns the file
// id Telegram assigned.
func (a *Adapter) UploadMedia(_ context.Context, data []byte, mime string) (string, error) {
	if a.uploadChatID == 0 {
		return "", apperrors.NewInvalidInput("no upload chat configured for this bot")
	}

	file := tgbotapi.FileBytes{Name: "upload", Bytes: data}

	if strings.HasPrefix(mime, "image/") {
		sent, err := a.bot.Send(tgbotapi.NewPhoto(a.uploadChatID, file))
		if err != nil {
			return "", classify(err)
		}
		if len(sent.Photo) == 0 {
			return "", apperrors.NewInternal("telegram returned no photo sizes")
		}
		// The last size is the original resolution.
		return sent.Photo[len(sent.Photo)-1].FileID, nil
	}

	sent, err := a.bot.Send(tgbotapi.NewDocument(a.uploadChatID, file))
	if err != nil {
		return "", classify(err)
	}
	if sent.Document == nil {
		return "", apperrors.NewInternal("telegram returned no document")
	}
	return sent.Document.FileID, nil
}

// SetWebhook registers the webhook. The raw request form is used so the
// secret token reaches the API.
func (a *Adapter) SetWebhook(_ context.Context, url string, opts platform.WebhookOptions) error {
	params := tgbotapi.Params{"url": url}
	if opts.SecretToken != "" {
		params["secret_token"] = opts.SecretToken
	}
	if opts.MaxConnections > 0 {
		params["max_connections"] = strconv.Itoa(opts.MaxConnections)
	}
	if opts.DropPending {
		params["drop_pending_updates"] = "true"
	}

	if _, err := a.bot.MakeRequest("setWebhook", params); err != nil {
		return classify(err)
	}
	a.logger.Info("Webhook registered", zap.String("url", url))
	return nil
}

func (a *Adapter) WebhookInfo(_ context.Context) (platform.WebhookInfo, error) {
	info, err := a.bot.GetWebhookInfo()
	if err != nil {
		return platform.WebhookInfo{}, classify(err)
	}
	return platform.WebhookInfo{
		URL:              info.URL,
		PendingUpdates:   info.PendingUpdateCount,
		LastErrorMessage: info.LastErrorMessage,
	}, nil
}

func (a *Adapter) DeleteWebhook(_ context.Context) error {
	_, err := a.bot.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		return classify(err)
	}
	return nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, apperrors.NewInvalidInput(fmt.Sprintf("invalid telegram chat id %q", chatID))
	}
	return id, nil
}

func requestFile(item platform.OutMedia) tgbotapi.RequestFileData {
	if item.FileID != "" {
		return tgbotapi.FileID(item.FileID)
	}
	return tgbotapi.FileBytes{Name: "media", Bytes: item.Bytes}
}

// classify maps Telegram API failures onto the engine's retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return apperrors.Wrap(apperrors.CodeUnauthorized, "telegram rejected credentials", err)
		case apiErr.Code == http.StatusBadRequest:
			return apperrors.Wrap(apperrors.CodeInvalidInput, "telegram rejected request", err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return apperrors.NewTransient("telegram temporary failure", err)
		}
		return apperrors.Wrap(apperrors.CodeInternal, "telegram error", err)
	}

	// Anything without an API code is a network-level failure.
	return apperrors.NewTransient("telegram unreachable", err)
}

package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
)

// buttonsPerRow keeps keyboards readable on narrow screens.
const buttonsPerRow = 2

// inlineKeyboard lays scenario buttons out as inline callback buttons,
// preserving declaration order.
func inlineKeyboard(buttons []entity.Button) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Value))
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// inputMedia builds one album entry, or nil for an unsupported type.
func inputMedia(item platform.OutMedia, caption string) interface{} {
	file := requestFile(item)

	switch item.Type {
	case "image":
		m := tgbotapi.NewInputMediaPhoto(file)
		m.Caption = caption
		return m
	case "video":
		m := tgbotapi.NewInputMediaVideo(file)
		m.Caption = caption
		return m
	case "audio":
		m := tgbotapi.NewInputMediaAudio(file)
		m.Caption = caption
		return m
	case "document":
		m := tgbotapi.NewInputMediaDocument(file)
		m.Caption = caption
		return m
	default:
		return nil
	}
}

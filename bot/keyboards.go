package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-guard/captcha"
)

// Callback-данные меню администратора
const (
	callbackAdminModeration = "admin_moderation"
	callbackAdminWelcome    = "admin_welcome"
	callbackAdminCommands   = "admin_custom_commands"
	callbackAdminKeywords   = "admin_keyword_triggers"
	callbackAdminRoles      = "admin_role_system"
	callbackAdminLock       = "admin_group_lock"
)

// adminMenuTitles подписи разделов меню администратора
var adminMenuTitles = map[string]string{
	callbackAdminModeration: "Moderation Settings",
	callbackAdminWelcome:    "Welcome Settings",
	callbackAdminCommands:   "Custom Commands",
	callbackAdminKeywords:   "Keyword Triggers",
	callbackAdminRoles:      "Role System",
	callbackAdminLock:       "Group Lock",
}

// createAddToGroupKeyboard кнопка добавления бота в группу
func createAddToGroupKeyboard(botUsername string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Add to your group",
				fmt.Sprintf("https://t.me/%s?startgroup=true", botUsername)),
		),
	)
}

// createAdminMenuKeyboard меню администратора группы
func createAdminMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	button := func(data string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(adminMenuTitles[data], data)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(callbackAdminModeration), button(callbackAdminWelcome)),
		tgbotapi.NewInlineKeyboardRow(button(callbackAdminCommands), button(callbackAdminKeywords)),
		tgbotapi.NewInlineKeyboardRow(button(callbackAdminRoles), button(callbackAdminLock)),
	)
}

// createCaptchaKeyboard кнопки вариантов ответа, по одной в ряд
func createCaptchaKeyboard(p captcha.Prompt) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, opt := range p.Options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, p.CallbackData(opt)),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

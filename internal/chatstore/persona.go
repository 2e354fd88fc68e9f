package chatstore

import "github.com/ashureev/neurobot/internal/domain"

type persona struct {
	subtitle string
	greeting string
}

// personas seed new chats of the assistant types. Plain chats start empty.
var personas = map[domain.ChatType]persona{
	domain.ChatTypeSMM: {
		subtitle: "SMM Ассистент: Ваш помощник в маркетинге соцсетей",
		greeting: "Привет, я твой SMM Ассистент! Чем могу помочь?",
	},
	domain.ChatTypeAnalysis: {
		subtitle: "Анализ данных: Помощник по аналитике",
		greeting: "Привет, я твой ассистент по анализу данных! Что будем разбирать?",
	},
}

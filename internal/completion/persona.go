package completion

import (
	"strings"

	"github.com/ashureev/neurobot/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const smmPrompt = "Ты профессиональный SMM-специалист с многолетним опытом в создании контента, " +
	"разработке стратегий продвижения и аналитике социальных сетей. Твоя задача — помогать брендам " +
	"и предпринимателям достигать их бизнес-целей через эффективные маркетинговые кампании. " +
	"Отвечай на русском языке, используя четкие и понятные формулировки. Предлагай только " +
	"проверенные и современные решения, основанные на актуальных трендах и алгоритмах платформ " +
	"(Instagram, TikTok, ВКонтакте, Telegram, YouTube и др.). Учитывай специфику аудитории и " +
	"особенности ниши. Если требуется, задавай уточняющие вопросы для максимальной точности ответов."

const analysisPrompt = "Ты аналитик данных. Помогай разбирать метрики, таблицы и отчеты, " +
	"находи закономерности и аномалии, объясняй выводы простым языком и предлагай, какие данные " +
	"стоит собрать дополнительно. Отвечай на русском языке."

const assistantPrompt = "Ты NEUROBOT, внимательный и дружелюбный ИИ-ассистент. Отвечай на языке " +
	"пользователя, по существу и без лишней воды. Используй markdown, когда это делает ответ понятнее."

// SystemPrompt returns the persona prompt prepended for a chat type.
func SystemPrompt(t domain.ChatType) string {
	switch t {
	case domain.ChatTypeSMM:
		return smmPrompt
	case domain.ChatTypeAnalysis:
		return analysisPrompt
	default:
		return assistantPrompt
	}
}

// CreatorAnswer is returned instead of an upstream call when the user asks who made the bot.
const CreatorAnswer = "Меня разработала команда ARTIRBIT — инновационной компании, которая специализируется " +
	"на создании технологичных решений для автоматизации бизнес-процессов и повышения эффективности " +
	"работы специалистов. Я являюсь результатом многолетних исследований в области искусственного " +
	"интеллекта и машинного обучения. Моя задача — помогать пользователям решать сложные задачи, " +
	"предоставляя точные, актуальные и практичные рекомендации."

var creatorPhrases = []string{
	"кто тебя создал",
	"кто тебя придумал",
}

// asksForCreator reports whether content contains one of the creator phrases, ignoring
// case and surrounding whitespace.
func asksForCreator(content string) bool {
	// A Caser keeps state, so one is created per call.
	normalized := cases.Lower(language.Russian).String(strings.TrimSpace(content))
	for _, phrase := range creatorPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

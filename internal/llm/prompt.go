package llm

import (
	"fmt"
	"strings"

	"protocolmaker/internal/transcript"
)

const promptTemplate = `Проанализируйте стенограмму встречи и создайте протокол.

Участники встречи: %s

Стенограмма встречи (с таймкодами и спикерами):
%s

Пожалуйста, создайте структурированный протокол, включающий:
1. Основные обсуждаемые вопросы
2. Принятые решения
3. Назначенные ответственные лица
4. Сроки выполнения
5. Следующие шаги

Обратите внимание на таймкоды и спикеров в стенограмме для более точного анализа.
Протокол должен быть оформлен в соответствии с деловым стилем.`

// BuildPrompt renders the user message sent to the assistant
func BuildPrompt(doc string, participants []transcript.Participant) string {
	names := strings.Join(transcript.Names(participants), ", ")
	return fmt.Sprintf(promptTemplate, names, strings.TrimSpace(doc))
}

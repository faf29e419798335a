package constants

import (
	"fmt"
	"strings"
)

// Префиксы топиков realtime-каналов. Один топик на документ и один на
// пользователя для уведомлений очереди задач. Все топики приватные.
const (
	DocumentTopicPrefix = "document:"
	JobsTopicPrefix     = "jobs:"
)

// Имена событий realtime-каналов.
const (
	EventDocumentUpdated = "document.updated"
	EventJobUpdated      = "job.updated"
	EventNodeState       = "node.state" // клиентские broadcast между подписчиками документа
)

// DocumentTopic возвращает имя топика для документа.
func DocumentTopic(documentID string) string {
	return DocumentTopicPrefix + documentID
}

// JobsTopic возвращает имя топика уведомлений о задачах пользователя.
func JobsTopic(userID string) string {
	return JobsTopicPrefix + userID
}

// ParseTopic разбирает имя топика на префикс и идентификатор.
func ParseTopic(topic string) (prefix, id string, err error) {
	idx := strings.IndexByte(topic, ':')
	if idx <= 0 || idx == len(topic)-1 {
		return "", "", fmt.Errorf("malformed topic %q", topic)
	}
	prefix, id = topic[:idx+1], topic[idx+1:]
	if prefix != DocumentTopicPrefix && prefix != JobsTopicPrefix {
		return "", "", fmt.Errorf("unknown topic prefix %q", prefix)
	}
	return prefix, id, nil
}

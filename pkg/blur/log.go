package blur

import (
	"encoding/json"
	"log"
	"time"
)

// logEvent writes one structured JSON line for an update event.
func (n *Network) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "blur"
	data["event_type"] = eventType
	data["environment"] = n.Environment()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Blur] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

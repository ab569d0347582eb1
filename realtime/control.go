package realtime

import "github.com/tidwall/gjson"

// parseControl recognizes the subscription control shape: a JSON object
// carrying a valid priority string and an array-valued keep list of
// string topics. Both fields must be present together; anything else is
// not a control message and flows to the message callback only.
func parseControl(data []byte) (Priority, []string, bool) {
	if !gjson.ValidBytes(data) {
		return "", nil, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return "", nil, false
	}

	prio := root.Get("priority")
	keep := root.Get("keep")
	if prio.Type != gjson.String || !keep.IsArray() {
		return "", nil, false
	}

	priority, ok := ParsePriority(prio.String())
	if !ok {
		return "", nil, false
	}

	items := keep.Array()
	topics := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.String {
			return "", nil, false
		}
		topics = append(topics, item.String())
	}
	return priority, topics, true
}

package chat

func summary(t Turn) string {
	if t.Content == nil {
		return ""
	}
	return t.Content.Summary()
}

package telegram

import "github.com/Strob0t/flowgate/internal/port/notifier"

func init() {
	notifier.Register("telegram", func(opts notifier.Options) (notifier.Notifier, error) {
		token := opts.Settings["token"]
		if token == "" {
			return nil, notifier.ErrNotConfigured
		}
		return New(token, opts.Settings["chat_id"], opts.Settings["api_endpoint"], opts.HTTPClient), nil
	})
}

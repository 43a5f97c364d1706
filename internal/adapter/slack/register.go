package slack

import "github.com/Strob0t/flowgate/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(opts notifier.Options) (notifier.Notifier, error) {
		if opts.Settings["webhook_url"] == "" {
			return nil, notifier.ErrNotConfigured
		}
		return NewNotifier(opts.Settings["webhook_url"], opts.Settings["console_url"], opts.HTTPClient), nil
	})
}

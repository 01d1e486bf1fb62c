package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints first, then the cross references
// between the archive section and the storage list.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fieldErrors(err)
	}

	storageNames := map[string]struct{}{}
	for i, st := range c.Storage {
		if _, ok := storageNames[st.Name]; ok {
			return fmt.Errorf("storage[%d]: duplicate storage.name %q", i, st.Name)
		}
		storageNames[st.Name] = struct{}{}

		switch st.Type {
		case "s3":
			if st.S3 == nil {
				return fmt.Errorf("storage %s: s3 config missing", st.Name)
			}
			if (st.S3.AccessKey == "") != (st.S3.SecretKey == "") {
				return fmt.Errorf("storage %s: s3.access_key and s3.secret_key must be set together", st.Name)
			}
		case "local":
			if st.Local == nil {
				return fmt.Errorf("storage %s: local config missing", st.Name)
			}
		}
	}

	if _, ok := storageNames[c.Archive.Storage]; !ok {
		return fmt.Errorf("archive.storage=%q not found in storage list", c.Archive.Storage)
	}

	if (c.Table.AccessKey == "") != (c.Table.SecretKey == "") {
		return fmt.Errorf("table.access_key and table.secret_key must be set together")
	}

	if s := strings.TrimSpace(c.Archive.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("archive.schedule %q is invalid: %w", s, err)
		}
	}

	return nil
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fieldPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Archive.MaxAge" into "archive.maxage".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
)

func parseLicenseID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, licensedomain.ErrInvalidID
	}
	return parsed, nil
}

package postgres

import (
	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

var (
	_ policy.Store            = (*Store)(nil)
	_ enrollment.FactorStore  = (*Store)(nil)
	_ governor.CounterStore   = (*Store)(nil)
	_ audit.Recorder          = (*Store)(nil)
	_ audit.Lister            = (*Store)(nil)
	_ device.Store            = (*Store)(nil)
	_ auth.CredentialVerifier = (*Store)(nil)
)

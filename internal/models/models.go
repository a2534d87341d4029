package models

// All lists every model handled by AutoMigrate, parents first.
func All() []any {
	return []any{
		&User{},
		&Account{},
		&Session{},
		&QrTemplate{},
		&QrCode{},
		&ApplicationLog{},
	}
}

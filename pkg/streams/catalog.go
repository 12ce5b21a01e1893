package streams

// Catalog returns every extractable stream in sync order. Contacts run
// first: their records feed form guids and active contact ids to the
// submissions and contacts_events syncs later in the run.
func Catalog() []Definition {
	return []Definition{
		&searchStream{
			name:       "contacts",
			objectType: "contacts",
			filterKey:  "lastmodifieddate",
			rewind:     contactsRewind,
			limit:      100,
			enrich:     enrichContacts,
			collect:    collectContactActivity,
		},
		&searchStream{
			name:       "deals",
			objectType: "deals",
			filterKey:  "hs_lastmodifieddate",
			limit:      100,
			enrich:     enrichDeals,
		},
		&cursorStream{
			name:            "companies",
			path:            "/crm/v3/objects/companies",
			properties:      mandatoryCompanyProperties,
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&cursorStream{
			name:            "owners",
			path:            "/crm/v3/owners",
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&cursorStream{
			name:            "deal_pipelines",
			path:            "/crm/v3/pipelines/deals",
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&cursorStream{
			name:            "contact_properties",
			path:            "/crm/v3/properties/contacts",
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&cursorStream{
			name:            "company_properties",
			path:            "/crm/v3/properties/companies",
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&cursorStream{
			name:            "deal_properties",
			path:            "/crm/v3/properties/deals",
			replicationPath: []string{"updatedAt"},
			bookmarkKey:     "updatedAt",
			limit:           100,
		},
		&offsetStream{
			name:            "engagements",
			path:            "/engagements/v1/engagements/paged",
			itemsKey:        "results",
			replicationPath: []string{"engagement", "lastUpdated"},
			bookmarkKey:     "lastUpdated",
			limit:           250,
		},
		&offsetStream{
			name:            "email_events",
			path:            "/email/public/v1/events",
			itemsKey:        "events",
			replicationPath: []string{"created"},
			bookmarkKey:     "created",
			limit:           1000,
			windowed:        true,
		},
		&formsStream{},
		&submissionsStream{},
		&contactsEventsStream{},
	}
}

// Lookup finds a stream definition by name.
func Lookup(name string) (Definition, bool) {
	for _, def := range Catalog() {
		if def.Name() == name {
			return def, true
		}
	}
	return nil, false
}

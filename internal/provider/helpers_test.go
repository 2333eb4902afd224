package provider

import (
	"cloud.google.com/go/civil"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func containsDate(list []NamedDate, d civil.Date) bool {
	for _, n := range list {
		if n.Date == d {
			return true
		}
	}
	return false
}

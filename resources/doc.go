// Package resources maps the admin API resources and operations onto
// executor requests and runs them one by one or as a batch.
package resources

// Package publication pushes finished minutes to a Confluence Server space.
//
// Content helpers derive the page title from the minutes ("Дата:" and
// "Тема:" lines, then headings, then the job itself) and convert the
// markdown the summarizer produces into Confluence storage format. Service
// ties the page client to the job store: every attempt is tracked as a
// jobs.Publication row and drives the job through publishing to published
// or publish_failed.
package publication

// Package chatview renders direct messages for the lectern-chat terminal
// client: the conversation list with unread badges and name search, message
// threads, relative timestamps and a multi-line composer.
package chatview

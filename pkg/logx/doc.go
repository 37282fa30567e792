// Package logx is studybot's logging layer on zerolog.
//
// Service owns the sinks and can be re-applied on config reload: a
// readable console, a JSON file, and an operator chat that receives
// warnings and errors at a bounded rate. Logger values handed out by the
// Service follow every Apply. Components tag their lines with
// Logger.Component and the user they act for with User.
package logx

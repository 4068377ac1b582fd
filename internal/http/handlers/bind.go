package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON binds and validates a JSON body, answering 400 with per-field
// details on failure.
func BindJSON(ctx *gin.Context, out any) bool {
	if err := ctx.ShouldBindJSON(out); err != nil {
		RespondBadRequest(ctx, "Invalid request body", parseBindError(err, out))
		return false
	}
	return true
}

// BindForm binds a urlencoded or multipart form. On failure it returns one
// message per form field, the first failing rule winning, looked up in the
// message tables in order.
func BindForm(ctx *gin.Context, out any, messages ...map[string]string) (map[string]string, bool) {
	var b binding.Binding = binding.Form
	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		b = binding.FormMultipart
	}

	err := ctx.ShouldBindWith(out, b)
	if err == nil {
		return nil, true
	}

	fields := map[string]string{}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields[""] = "Invalid form submission"
		return fields, false
	}

	rootType := baseStructType(out)
	for _, fe := range verrs {
		field := fieldPath(rootType, namespaceParts(rootType, fe), "form")
		if _, seen := fields[field]; seen {
			continue
		}
		fields[field] = formMessage(field, fe.Tag(), fe.Param(), messages)
	}
	return fields, false
}

func formMessage(field, rule, param string, tables []map[string]string) string {
	key := field + "." + rule
	for _, t := range tables {
		if msg, ok := t[key]; ok {
			return msg
		}
	}
	return field + " " + validationMessage(rule, param)
}

func parseBindError(err error, out any) any {
	rootType := baseStructType(out)

	// validator errors (struct bind tags)
	var validatorError validator.ValidationErrors
	if errors.As(err, &validatorError) {
		fields := make([]FieldError, 0, len(validatorError))

		for _, fieldError := range validatorError {
			rule := fieldError.Tag()
			param := fieldError.Param()

			fields = append(fields, FieldError{
				Field:   fieldPath(rootType, namespaceParts(rootType, fieldError), "json"),
				Rule:    rule,
				Param:   param,
				Message: validationMessage(rule, param),
			})
		}
		return gin.H{"fields": fields}
	}

	var syntaxError *json.SyntaxError
	if errors.As(err, &syntaxError) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var unmatchedTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmatchedTypeError) {
		field := ""
		if p := strings.TrimSpace(unmatchedTypeError.Field); p != "" {
			field = fieldPath(rootType, strings.Split(p, "."), "json")
		}

		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{
				{
					Field:   field,
					Rule:    "type",
					Message: fmt.Sprintf("must be of type %s", unmatchedTypeError.Type.String()),
				},
			},
		}
	}

	// final fallback if the error could not be deciphered
	return gin.H{"reason": err.Error()}
}

func baseStructType(v any) reflect.Type {
	t := reflect.TypeOf(v)

	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t != nil && t.Kind() == reflect.Struct {
		return t
	}
	return nil
}

// namespaceParts splits "<Struct>.<Field>[.<Nested>...]" and drops the root
// struct name.
func namespaceParts(rootType reflect.Type, fe validator.FieldError) []string {
	namespace := fe.StructNamespace()
	if namespace == "" {
		namespace = fe.Namespace()
	}
	if namespace == "" {
		return []string{fe.Field()}
	}

	parts := strings.Split(namespace, ".")
	if rootType != nil && rootType.Name() != "" && len(parts) > 0 && parts[0] == rootType.Name() {
		parts = parts[1:]
	}
	return parts
}

// fieldPath maps Go struct field names to their wire names under tag.
func fieldPath(rootType reflect.Type, parts []string, tag string) string {
	current := rootType
	out := make([]string, 0, len(parts))

	for _, rawPart := range parts {
		if rawPart == "" {
			continue
		}

		fieldName, indexSuffix := splitFieldIndex(rawPart)
		wireName := fieldName

		var nextType reflect.Type
		if current != nil {
			for current.Kind() == reflect.Pointer {
				current = current.Elem()
			}

			if current.Kind() == reflect.Struct {
				if sf, ok := current.FieldByName(fieldName); ok {
					wireName = wireNameFromStructField(sf, tag)
					nextType = sf.Type
				}
			}
		}

		out = append(out, wireName+indexSuffix)
		current = unwindCollection(nextType)
	}

	return strings.Join(out, ".")
}

func splitFieldIndex(part string) (string, string) {
	idx := strings.Index(part, "[")
	if idx == -1 {
		return part, ""
	}
	return part[:idx], part[idx:]
}

func wireNameFromStructField(sf reflect.StructField, tag string) string {
	name, _, _ := strings.Cut(sf.Tag.Get(tag), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

func unwindCollection(t reflect.Type) reflect.Type {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return t
		}
	}
	return nil
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "username":
		return "may only contain letters, numbers and underscores"
	case "has_upper":
		return "must contain an uppercase letter"
	case "has_lower":
		return "must contain a lowercase letter"
	case "has_digit":
		return "must contain a number"
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}

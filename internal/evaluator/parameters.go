package evaluator

import (
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

// defaultFreshnessParameters is used whenever an AssertionEvaluationSpec
// carries no explicit evaluation parameters, matching the upstream
// evaluator's DEFAULT_FRESHNESS_PARAMETERS fallback.
var defaultFreshnessParameters = domain.AssertionEvaluationParameters{
	Type: domain.EvaluationParametersDatasetFreshness,
	DatasetFreshnessParameters: &domain.DatasetFreshnessAssertionParameters{
		SourceType: domain.SourceTypeInformationSchema,
	},
}

// eventTypeAndParameters extracts the EntityEventType a source adapter
// should be asked for, plus the loosely-typed filter map it should be
// handed, from a DATASET_FRESHNESS parameters block.
func eventTypeAndParameters(parameters domain.AssertionEvaluationParameters) (domain.EntityEventType, map[string]any, error) {
	df := parameters.DatasetFreshnessParameters
	if df == nil {
		return "", nil, evalerr.New(evalerr.KindMalformedAssertion, "missing dataset_freshness_parameters on evaluation parameters")
	}

	switch df.SourceType {
	case domain.SourceTypeFieldValue:
		if df.Field == nil {
			return "", nil, evalerr.New(evalerr.KindMalformedAssertion, "FIELD_VALUE source type requires a field spec")
		}
		params := map[string]any{
			"path": df.Field.Path,
			"type": df.Field.Type,
		}
		if df.Field.NativeType != nil {
			params["native_type"] = *df.Field.NativeType
		}
		return domain.EntityEventFieldUpdate, params, nil
	case domain.SourceTypeInformationSchema:
		return domain.EntityEventInformationSchemaUpdate, map[string]any{}, nil
	case domain.SourceTypeAuditLog:
		params := map[string]any{}
		if df.AuditLog != nil {
			if len(df.AuditLog.OperationTypes) > 0 {
				ops := make([]any, len(df.AuditLog.OperationTypes))
				for i, o := range df.AuditLog.OperationTypes {
					ops[i] = o
				}
				params["operation_types"] = ops
			}
			if df.AuditLog.UserName != nil {
				params["user_name"] = *df.AuditLog.UserName
			}
		}
		return domain.EntityEventAuditLogOperation, params, nil
	default:
		return "", nil, evalerr.New(evalerr.KindUnsupportedSourceType, "unsupported dataset freshness source type "+string(df.SourceType))
	}
}
